package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	sdk "github.com/hewenyu/someip-routing/sdk/go"
)

func main() {
	// 配置SDK客户端
	config := &sdk.Config{
		ServerAddr:     "localhost:8080",
		Service:        0x1234,
		Instance:       0x0001,
		Major:          1,
		Minor:          0,
		Group:          "example",
		ReliableAddr:   "127.0.0.1",
		ReliablePort:   30501,
		UnreliableAddr: "127.0.0.1",
		UnreliablePort: 30502,
		TTL:            3,
		Timeout:        5 * time.Second,
	}

	client, err := sdk.NewClient(config)
	if err != nil {
		log.Fatalf("创建SDK客户端失败: %v", err)
	}

	// 提供服务
	ctx := context.Background()
	info, err := client.Offer(ctx)
	if err != nil {
		log.Fatalf("提供服务失败: %v", err)
	}
	log.Printf("服务 %s 已提供，租约: %ds", info.Key, info.TTL)

	// 启动租约刷新
	client.StartRefresh()
	log.Printf("租约刷新已启动，间隔: %s", config.RefreshInterval)

	// 等待终止信号
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	log.Println("服务已启动，按Ctrl+C终止...")
	<-quit

	log.Println("正在停止提供服务...")
	if err := client.Close(ctx); err != nil {
		log.Printf("关闭SDK客户端失败: %v", err)
	}
	log.Println("服务已关闭")
}
