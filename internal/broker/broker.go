// Package broker owns the MQTT connections: a shared connect helper for
// the inbound subscriber and a pool of outbound publishers draining a
// bounded queue at QoS 0.
package broker

import (
	"fmt"
	"hash/fnv"
	"log"
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
)

// Message is one outbound publish.
type Message struct {
	Topic   string
	Payload []byte
}

// Config holds broker connection configuration.
type Config struct {
	Server   string // host or host:port
	Port     string
	Username string
	Password string
}

// URL renders the tcp broker URL paho expects.
func (c Config) URL() string {
	host := c.Server
	if !strings.Contains(host, ":") && c.Port != "" {
		host = host + ":" + c.Port
	}
	return "tcp://" + host
}

// Connect establishes one MQTT connection with auto-reconnect. onConnect,
// when non-nil, runs on every successful (re)connect; subscribers use it
// to re-register their topic filters.
func Connect(cfg Config, clientID string, onConnect mqtt.OnConnectHandler) (mqtt.Client, error) {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.URL())
	opts.SetClientID(clientID)
	opts.SetUsername(cfg.Username)
	opts.SetPassword(cfg.Password)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetKeepAlive(100 * time.Second)
	opts.SetOrderMatters(true)
	opts.OnConnectionLost = func(c mqtt.Client, err error) {
		log.Printf("[MQTT] connection lost: %v", err)
	}
	if onConnect != nil {
		opts.OnConnect = onConnect
	}

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("failed to connect to MQTT: %w", token.Error())
	}
	return client, nil
}

// PublisherID generates a publisher client identifier.
func PublisherID() string {
	s := "Elo_Pub_" + uuid.New().String()
	return s[:16]
}

// DefaultWorkers is the publisher pool size.
const DefaultWorkers = 8

// DefaultQueueCap bounds the total outbound queue.
const DefaultQueueCap = 10000

// Pool fans outbound messages across a fixed set of publisher workers.
// Messages are partitioned by topic hash so publishes for one topic keep
// their enqueue order. Enqueue blocks when the partition is full; this is
// the only place the event engine is allowed to block on output.
type Pool struct {
	cfg     Config
	workers int
	queues  []chan Message
	stop    chan struct{}
	wg      sync.WaitGroup
	onFatal func(error)
}

// NewPool creates a publisher pool. onFatal is invoked when a worker
// exhausts its reconnect budget; the supervisor reacts by restarting.
func NewPool(cfg Config, workers, queueCap int, onFatal func(error)) *Pool {
	if workers <= 0 {
		workers = DefaultWorkers
	}
	if queueCap <= 0 {
		queueCap = DefaultQueueCap
	}
	per := queueCap / workers
	if per < 1 {
		per = 1
	}
	p := &Pool{
		cfg:     cfg,
		workers: workers,
		queues:  make([]chan Message, workers),
		stop:    make(chan struct{}),
		onFatal: onFatal,
	}
	for i := range p.queues {
		p.queues[i] = make(chan Message, per)
	}
	return p
}

// Start launches the workers, each with its own broker connection.
func (p *Pool) Start() {
	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.run(i)
	}
	log.Printf("[MQTT] publisher pool started with %d workers", p.workers)
}

// Enqueue queues one message for publishing, blocking if the topic's
// partition is full.
func (p *Pool) Enqueue(msg Message) {
	select {
	case p.queues[p.partition(msg.Topic)] <- msg:
	case <-p.stop:
	}
}

// Depth returns the number of queued, unpublished messages.
func (p *Pool) Depth() int {
	n := 0
	for _, q := range p.queues {
		n += len(q)
	}
	return n
}

// Stop drains all partitions and shuts the workers down.
func (p *Pool) Stop() {
	close(p.stop)
	p.wg.Wait()
}

func (p *Pool) partition(topic string) int {
	h := fnv.New32a()
	h.Write([]byte(topic))
	return int(h.Sum32() % uint32(p.workers))
}

func (p *Pool) run(idx int) {
	defer p.wg.Done()

	client, err := p.connectWithRetry(idx)
	if err != nil {
		if p.onFatal != nil {
			p.onFatal(fmt.Errorf("publisher %d: %w", idx, err))
		}
		return
	}
	defer client.Disconnect(250)

	q := p.queues[idx]
	for {
		select {
		case msg := <-q:
			p.publish(&client, idx, msg)
		case <-p.stop:
			// Flush whatever is left before exiting.
			for {
				select {
				case msg := <-q:
					p.publish(&client, idx, msg)
				default:
					return
				}
			}
		}
	}
}

func (p *Pool) publish(client *mqtt.Client, idx int, msg Message) {
	if msg.Topic == "" {
		return
	}
	token := (*client).Publish(msg.Topic, 0, false, msg.Payload)
	token.Wait()
	if token.Error() == nil {
		return
	}
	log.Printf("[MQTT] publisher %d publish failed on %s: %v", idx, msg.Topic, token.Error())

	// Worker death means immediate reconnect; the message is retried on
	// the fresh connection.
	(*client).Disconnect(0)
	fresh, err := p.connectWithRetry(idx)
	if err != nil {
		if p.onFatal != nil {
			p.onFatal(fmt.Errorf("publisher %d: %w", idx, err))
		}
		return
	}
	*client = fresh
	if token := fresh.Publish(msg.Topic, 0, false, msg.Payload); token.Wait() && token.Error() != nil {
		log.Printf("[MQTT] publisher %d dropping message for %s after reconnect: %v", idx, msg.Topic, token.Error())
	}
}

func (p *Pool) connectWithRetry(idx int) (mqtt.Client, error) {
	backoff := 500 * time.Millisecond
	const maxAttempts = 8

	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		client, err := Connect(p.cfg, PublisherID(), nil)
		if err == nil {
			return client, nil
		}
		lastErr = err
		log.Printf("[MQTT] publisher %d connect attempt %d failed: %v", idx, attempt+1, err)

		select {
		case <-time.After(backoff):
		case <-p.stop:
			return nil, fmt.Errorf("pool stopped: %w", lastErr)
		}
		backoff *= 2
		if backoff > 30*time.Second {
			backoff = 30 * time.Second
		}
	}
	return nil, fmt.Errorf("reconnect budget exhausted: %w", lastErr)
}
