// Command benchmark spins up a fleet of clients against a single
// broker, each publishing on its own topic once a second while
// subscribed to a couple of shared filters. It is a load-generation
// example program, not part of the library surface.
package main

import (
	"context"
	"fmt"
	"log"
	"time"

	"golang.org/x/sync/errgroup"

	mqtt "github.com/wireproto/mqttc"
)

const fleetSize = 100

func main() {
	group, ctx := errgroup.WithContext(context.Background())
	for i := 0; i < fleetSize; i++ {
		i := i
		opts := mqtt.New("127.0.0.1", 1883).WithClientID(fmt.Sprintf("bench-%d", i))
		c := mqtt.NewClient(opts)

		group.Go(func() error {
			if _, err := c.Connect(ctx); err != nil {
				return fmt.Errorf("client %d connect: %w", i, err)
			}
			c.OnMessage(func(m mqtt.Message) {
				log.Printf("id=%s topic=%s payload=%s", c.ID(), m.Topic, m.Payload)
			})
			if _, err := c.Subscribe(ctx, []string{"+", "a/b/c"}, mqtt.SubscribeOptions{}); err != nil {
				return fmt.Errorf("client %d subscribe: %w", i, err)
			}

			ticker := time.NewTicker(time.Second)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return ctx.Err()
				case <-ticker.C:
					topic := fmt.Sprintf("topic-%d", i)
					if _, err := c.Publish(ctx, topic, []byte("hello world"), mqtt.PublishOptions{}); err != nil {
						log.Printf("client %d publish: %v", i, err)
					}
				}
			}
		})
	}
	if err := group.Wait(); err != nil {
		log.Fatal(err)
	}
}
