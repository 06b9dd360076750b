// Package server connects the broker to the engine: the router classifies
// and decodes inbound messages, the supervisor watches the primary's
// heartbeat and promotes the backup when it goes quiet.
package server

import (
	"fmt"
	"log"

	"erps-platform/server/internal/codec"
	"erps-platform/server/internal/engine"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// subscriptions covers every topic family the core listens on. The
// heartbeat res topic is the one response channel the core itself reads.
var subscriptions = []string{
	"member/+/send/+",
	"room/+/send/+",
	"game/+/send/+",
	"server/+/send/+",
	"manager/+/send/+",
	"server/+/res/heartbeat",
}

// Router feeds classified, decoded events into the engine.
type Router struct {
	eng *engine.Engine
	sup *Supervisor
}

// NewRouter wires inbound messages to the engine and supervisor.
func NewRouter(eng *engine.Engine, sup *Supervisor) *Router {
	return &Router{eng: eng, sup: sup}
}

// Subscribe registers all topic families at QoS 0. Run it from the
// connection's OnConnect handler so the filters survive reconnects.
func (r *Router) Subscribe(client mqtt.Client) error {
	for _, filter := range subscriptions {
		token := client.Subscribe(filter, 0, r.onMessage)
		if token.Wait() && token.Error() != nil {
			return fmt.Errorf("subscribe %s: %w", filter, token.Error())
		}
	}
	log.Printf("[ROUTER] subscribed to %d topic families", len(subscriptions))
	return nil
}

// onMessage runs on paho's callback goroutine. It must stay cheap: decode,
// hand off, return. Engine backpressure is the only blocking allowed.
func (r *Router) onMessage(_ mqtt.Client, msg mqtt.Message) {
	c, ok := codec.Classify(msg.Topic())
	if !ok {
		// Foreign topic under a shared prefix; not ours to answer.
		return
	}

	if c.Kind == codec.KindHeartbeat {
		r.sup.ObserveHeartbeat(c.ID)
		return
	}

	ev, err := codec.Decode(c, msg.Payload())
	if err != nil {
		log.Printf("[ROUTER] bad payload on %s: %v", msg.Topic(), err)
		r.eng.FailDecode(c)
		return
	}
	r.eng.Submit(ev)
}
