package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"erps-platform/server/internal/broker"
	"erps-platform/server/internal/db"
	"erps-platform/server/internal/engine"
	"erps-platform/server/internal/redis"
	"erps-platform/server/internal/server"
	"erps-platform/server/internal/sqlworker"
	"erps-platform/server/internal/status"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"github.com/urfave/cli/v3"
)

func main() {
	app := &cli.Command{
		Name:  "erps-server",
		Usage: "MQTT matchmaking and room lifecycle server",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Sources: cli.EnvVars("MQTT_SERVER"),
				Name:    "server",
				Usage:   "MQTT broker host or host:port",
				Value:   "localhost",
			},
			&cli.StringFlag{
				Sources: cli.EnvVars("MQTT_PORT"),
				Name:    "port",
				Usage:   "MQTT broker port, ignored when --server carries one",
				Value:   "1883",
			},
			&cli.StringFlag{
				Sources: cli.EnvVars("MQTT_USERNAME"),
				Name:    "username",
				Usage:   "MQTT username",
			},
			&cli.StringFlag{
				Sources: cli.EnvVars("MQTT_PASSWORD"),
				Name:    "password",
				Usage:   "MQTT password",
			},
			&cli.StringFlag{
				Sources: cli.EnvVars("CLIENT_IDENTIFIER"),
				Name:    "client-identifier",
				Usage:   "subscriber client id, random when empty",
			},
			&cli.BoolFlag{
				Sources: cli.EnvVars("BACKUP"),
				Name:    "backup",
				Usage:   "start passive and take over when the primary dies",
			},
			&cli.IntFlag{
				Sources: cli.EnvVars("PUBLISH_WORKERS"),
				Name:    "publish-workers",
				Usage:   "outbound publisher pool size",
				Value:   broker.DefaultWorkers,
			},
		},
		Action: run,
	}

	if err := app.Run(context.Background(), os.Args); err != nil {
		log.Fatalf("[MAIN] %v", err)
	}
}

func run(ctx context.Context, c *cli.Command) error {
	cfg := LoadConfig()

	database, err := db.New(cfg.DBConfig)
	if err != nil {
		return err
	}
	log.Printf("[MAIN] database connected (%s)", cfg.DBConfig.DBName)

	// The leaderboard cache is optional; the score table stays authoritative.
	cache, err := redis.New(cfg.RedisConfig)
	if err != nil {
		log.Printf("[MAIN] redis unavailable, leaderboard cache disabled: %v", err)
		cache = nil
	}

	brokerCfg := broker.Config{
		Server:   c.String("server"),
		Port:     c.String("port"),
		Username: c.String("username"),
		Password: c.String("password"),
	}

	fatal := make(chan error, 1)
	pool := broker.NewPool(brokerCfg, int(c.Int("publish-workers")), broker.DefaultQueueCap, func(err error) {
		select {
		case fatal <- err:
		default:
		}
	})
	pool.Start()

	worker := sqlworker.New(database.DB, cache, sqlworker.DefaultQueueCap, sqlworker.DefaultPendingCap)
	worker.Start()

	backup := c.Bool("backup")
	eng := engine.New(engine.Config{Backup: backup}, pool, worker)

	// Seed the world from persistence before events flow.
	if seed, err := server.LoadSeed(database.DB); err != nil {
		log.Printf("[MAIN] seed load failed, starting empty: %v", err)
	} else {
		for _, su := range seed {
			eng.LoadUser(su.Row, su.Scores, su.BlackList)
		}
		log.Printf("[MAIN] seeded %d users", len(seed))
	}
	eng.Start()

	clientID := c.String("client-identifier")
	if clientID == "" {
		clientID = ("Elo_Sub_" + uuid.New().String())[:16]
	}

	sup := server.NewSupervisor(server.SupervisorConfig{
		ServerID: clientID,
		Backup:   backup,
	}, eng, pool, database.DB)
	router := server.NewRouter(eng, sup)

	// OnConnect re-registers the filters after every broker reconnect.
	subClient, err := broker.Connect(brokerCfg, clientID, func(mc mqtt.Client) {
		if err := router.Subscribe(mc); err != nil {
			log.Printf("[MAIN] resubscribe failed: %v", err)
		}
	})
	if err != nil {
		return err
	}
	log.Printf("[MAIN] subscriber connected as %s", clientID)
	sup.Start()

	statusSrv := status.New(eng, pool, worker, cache)
	go func() {
		if err := statusSrv.Run(cfg.StatusAddr); err != nil {
			log.Printf("[MAIN] status server stopped: %v", err)
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)

	select {
	case s := <-sig:
		log.Printf("[MAIN] received %s, shutting down", s)
	case err := <-fatal:
		log.Printf("[MAIN] publisher pool fatal: %v", err)
	case <-ctx.Done():
	}

	sup.Stop()
	subClient.Disconnect(250)
	eng.Stop()
	worker.Stop()
	pool.Stop()
	if cache != nil {
		cache.Close()
	}
	log.Printf("[MAIN] shutdown complete")
	return nil
}
