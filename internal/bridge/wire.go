package bridge

import (
	"fmt"
	"math"
	"time"

	"google.golang.org/protobuf/encoding/protowire"
)

// 广播信封的字段编号，只增不改，不同版本的进程可共用频道
const (
	fieldKind        protowire.Number = 1
	fieldOrigin      protowire.Number = 2
	fieldID          protowire.Number = 3
	fieldVideoID     protowire.Number = 4
	fieldAuthorID    protowire.Number = 5
	fieldText        protowire.Number = 6
	fieldColor       protowire.Number = 7
	fieldVideoTime   protowire.Number = 8
	fieldCreatedAt   protowire.Number = 9
	fieldScore       protowire.Number = 10
	fieldIsHighlight protowire.Number = 11
)

// EncodeEvent 按 protobuf wire 格式编码事件
func EncodeEvent(ev Event) []byte {
	m := &ev.Message
	b := make([]byte, 0, 48+len(ev.Origin)+len(m.VideoID)+len(m.AuthorID)+len(m.Text)+len(m.Color))

	b = protowire.AppendTag(b, fieldKind, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(ev.Kind))
	b = appendString(b, fieldOrigin, ev.Origin)

	if m.ID != 0 {
		b = protowire.AppendTag(b, fieldID, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(m.ID))
	}
	b = appendString(b, fieldVideoID, m.VideoID)
	b = appendString(b, fieldAuthorID, m.AuthorID)
	b = appendString(b, fieldText, m.Text)
	b = appendString(b, fieldColor, m.Color)

	b = protowire.AppendTag(b, fieldVideoTime, protowire.Fixed64Type)
	b = protowire.AppendFixed64(b, math.Float64bits(m.VideoTime))

	if !m.CreatedAt.IsZero() {
		b = protowire.AppendTag(b, fieldCreatedAt, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(m.CreatedAt.UnixNano()))
	}
	if m.Score != nil {
		b = protowire.AppendTag(b, fieldScore, protowire.Fixed64Type)
		b = protowire.AppendFixed64(b, math.Float64bits(*m.Score))
	}
	if m.IsHighlight != nil {
		b = protowire.AppendTag(b, fieldIsHighlight, protowire.VarintType)
		b = protowire.AppendVarint(b, protowire.EncodeBool(*m.IsHighlight))
	}
	return b
}

func appendString(b []byte, num protowire.Number, s string) []byte {
	if s == "" {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendString(b, s)
}

// DecodeEvent 解析 EncodeEvent 产生的信封，跳过未知字段
func DecodeEvent(b []byte) (Event, error) {
	var ev Event
	m := &ev.Message

	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return Event{}, fmt.Errorf("decode tag: %w", protowire.ParseError(n))
		}
		b = b[n:]

		switch {
		case typ == protowire.VarintType && (num == fieldKind || num == fieldID || num == fieldCreatedAt || num == fieldIsHighlight):
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return Event{}, fmt.Errorf("decode field %d: %w", num, protowire.ParseError(n))
			}
			b = b[n:]
			switch num {
			case fieldKind:
				ev.Kind = EventKind(v)
			case fieldID:
				m.ID = int64(v)
			case fieldCreatedAt:
				m.CreatedAt = time.Unix(0, int64(v)).UTC()
			case fieldIsHighlight:
				h := protowire.DecodeBool(v)
				m.IsHighlight = &h
			}

		case typ == protowire.BytesType && num >= fieldOrigin && num <= fieldColor && num != fieldID:
			s, n := protowire.ConsumeString(b)
			if n < 0 {
				return Event{}, fmt.Errorf("decode field %d: %w", num, protowire.ParseError(n))
			}
			b = b[n:]
			switch num {
			case fieldOrigin:
				ev.Origin = s
			case fieldVideoID:
				m.VideoID = s
			case fieldAuthorID:
				m.AuthorID = s
			case fieldText:
				m.Text = s
			case fieldColor:
				m.Color = s
			}

		case typ == protowire.Fixed64Type && (num == fieldVideoTime || num == fieldScore):
			v, n := protowire.ConsumeFixed64(b)
			if n < 0 {
				return Event{}, fmt.Errorf("decode field %d: %w", num, protowire.ParseError(n))
			}
			b = b[n:]
			f := math.Float64frombits(v)
			if num == fieldVideoTime {
				m.VideoTime = f
			} else {
				m.Score = &f
			}

		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return Event{}, fmt.Errorf("skip field %d: %w", num, protowire.ParseError(n))
			}
			b = b[n:]
		}
	}

	if ev.Kind != EventDanmaku && ev.Kind != EventScore {
		return Event{}, fmt.Errorf("unknown event kind %d", ev.Kind)
	}
	return ev, nil
}
