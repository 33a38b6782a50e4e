// grpc_client 手動呼叫通知服務，用於整合測試
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"chat-relay/internal/grpcclient"
	"chat-relay/internal/platform/config"
)

func main() {
	addr := flag.String("addr", "localhost:8081", "gRPC 服務器地址")
	token := flag.String("token", os.Getenv("GRPC_SERVICE_TOKEN"), "service token")
	kind := flag.String("kind", "like", "通知類型: like / comment / follow / message")
	from := flag.String("from", "", "來源用戶 ID")
	to := flag.String("to", "", "目標用戶 ID")
	postID := flag.String("post", "", "貼文 ID")
	text := flag.String("text", "", "通知內容")
	countOnly := flag.Bool("count", false, "只查詢 -to 的未讀數")
	flag.Parse()

	client, err := grpcclient.Dial(*addr, *token, config.TLSConfig{})
	if err != nil {
		log.Fatalf("連接失敗: %v", err)
	}
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if !*countOnly {
		result, err := client.Notify(ctx, grpcclient.NotifyRequest{
			Kind:       *kind,
			FromUserID: *from,
			ToUserID:   *to,
			PostID:     *postID,
			Text:       *text,
		})
		if err != nil {
			log.Fatalf("Notify 失敗: %v", err)
		}
		if result.Created {
			fmt.Printf("✓ 通知已建立: %s (%s)\n", result.NotificationID, result.CreatedAt.Format(time.RFC3339))
		} else {
			fmt.Printf("- 已有未讀通知，未重複建立: %s\n", result.NotificationID)
		}
	}

	count, err := client.UnreadCount(ctx, *to)
	if err != nil {
		log.Fatalf("UnreadCount 失敗: %v", err)
	}
	fmt.Printf("  %s 未讀通知數: %d\n", *to, count)
}
