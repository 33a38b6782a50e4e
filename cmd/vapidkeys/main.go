package main

import (
	"fmt"
	"os"

	webpush "github.com/SherClockHolmes/webpush-go"
)

// 產生 Web Push 用的 VAPID 金鑰組，輸出為 .env 格式
func main() {
	privateKey, publicKey, err := webpush.GenerateVAPIDKeys()
	if err != nil {
		fmt.Fprintf(os.Stderr, "產生 VAPID 金鑰失敗: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("PUSH_VAPID_PUBLIC_KEY=%s\n", publicKey)
	fmt.Printf("PUSH_VAPID_PRIVATE_KEY=%s\n", privateKey)
}
