// Command mqtt-client connects to a broker, subscribes to a couple of
// filters, and publishes a timestamp once a second until interrupted.
// It is an example program, not part of the library surface.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	mqtt "github.com/wireproto/mqttc"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	opts := mqtt.New("127.0.0.1", 1883).
		WithClientID("mqtt-client-example").
		WithAutoReconnect(mqtt.DefaultReconnectPolicy)

	c := mqtt.NewClient(opts)
	c.OnMessage(func(m mqtt.Message) {
		log.Printf("on: topic=%s qos=%d payload=%s", m.Topic, m.QoS, m.Payload)
	})

	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	result, err := c.Connect(connectCtx)
	cancel()
	if err != nil {
		log.Fatalf("connect: %v", err)
	}
	log.Printf("connected: session_present=%v", result.SessionPresent)

	if _, err := c.Subscribe(ctx, []string{"+", "a/b/c"}, mqtt.SubscribeOptions{QoS: 1}); err != nil {
		log.Fatalf("subscribe: %v", err)
	}

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			disconnectCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			_ = c.Disconnect(disconnectCtx)
			cancel()
			return
		case now := <-ticker.C:
			payload := []byte(now.Format(time.RFC3339))
			if _, err := c.Publish(ctx, "12345", payload, mqtt.PublishOptions{QoS: 1}); err != nil {
				log.Printf("publish: %v", err)
			}
		}
	}
}
