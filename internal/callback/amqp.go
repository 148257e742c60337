package callback

import (
	"context"
	"fmt"
	"net"
	"net/url"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Target is a parsed amqp:// callback URL.
type Target struct {
	// DialURL is the broker URL without the routing query.
	DialURL    string
	Exchange   string
	RoutingKey string
}

// ParseAMQPTarget splits exchange and routing_key query parameters from the
// broker URL. An empty exchange publishes to the default exchange, which
// routes by queue name.
func ParseAMQPTarget(raw string) (Target, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return Target{}, fmt.Errorf("parse amqp callback: %w", err)
	}
	if u.Scheme != "amqp" && u.Scheme != "amqps" {
		return Target{}, fmt.Errorf("%w: %s", ErrUnsupportedScheme, u.Scheme)
	}
	q := u.Query()
	target := Target{
		Exchange:   q.Get("exchange"),
		RoutingKey: q.Get("routing_key"),
	}
	if target.Exchange == "" && target.RoutingKey == "" {
		return Target{}, fmt.Errorf("amqp callback %s needs exchange or routing_key", u.Redacted())
	}
	q.Del("exchange")
	q.Del("routing_key")
	u.RawQuery = q.Encode()
	target.DialURL = u.String()
	return target, nil
}

func (d *dispatcher) dialAndPublish(ctx context.Context, target Target, msg amqp.Publishing) error {
	conn, err := amqp.DialConfig(target.DialURL, amqp.Config{
		Dial: func(network, addr string) (net.Conn, error) {
			return net.DialTimeout(network, addr, d.timeout)
		},
	})
	if err != nil {
		return fmt.Errorf("dial amqp: %w", err)
	}
	defer conn.Close()

	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("open amqp channel: %w", err)
	}
	defer ch.Close()

	if err := ch.PublishWithContext(ctx, target.Exchange, target.RoutingKey, false, false, msg); err != nil {
		return fmt.Errorf("publish to %s/%s: %w", target.Exchange, target.RoutingKey, err)
	}
	return nil
}
