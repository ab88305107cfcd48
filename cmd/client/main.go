package main

import (
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/palemoky/danmaku-sync/internal/config"
	"github.com/palemoky/danmaku-sync/internal/logger"
	"github.com/palemoky/danmaku-sync/internal/network/client"
	"github.com/palemoky/danmaku-sync/internal/sound"
	"github.com/palemoky/danmaku-sync/internal/ui"
)

func main() {
	serverAddr := flag.String("server", "http://localhost:1780", "服务器地址")
	videoID := flag.String("video", "", "视频 ID")
	userID := flag.String("user", "", "用户 ID，留空以游客身份观看")
	configPath := flag.String("config", "configs/config.yaml", "配置文件路径（读取 playback 段）")
	autoPlay := flag.Bool("autoplay", true, "连接后自动开始播放")
	soundDir := flag.String("sounds", sound.DefaultDir, "音效目录")
	flag.Parse()

	if *videoID == "" {
		fmt.Fprintln(os.Stderr, "用法: client -video <videoID> [-server http://host:port] [-user id]")
		os.Exit(2)
	}

	serverURL, err := client.BuildURL(*serverAddr, *videoID, *userID)
	if err != nil {
		log.Fatalf("服务器地址无效: %v", err)
	}

	if err := logger.InitClient(); err != nil {
		fmt.Fprintf(os.Stderr, "初始化日志失败: %v\n", err)
	}
	defer logger.Close()

	cfg, err := config.Load(*configPath)
	if err != nil {
		cfg = config.Default()
	}

	sm := sound.NewSoundManager(*soundDir)
	go func() {
		if err := sm.Init(); err != nil {
			logger.LogError("初始化音效失败: %v", err)
		}
	}()
	defer sm.Close()

	if err := ui.Run(ui.Options{
		ServerURL: serverURL,
		Playback:  cfg.Playback,
		Sound:     sm,
		AutoPlay:  *autoPlay,
	}); err != nil {
		log.Fatalf("启动客户端时出错: %v", err)
	}
}
