// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/Thermoquad/vrctl/pkg/config"
	"github.com/Thermoquad/vrctl/pkg/metrics"
	"github.com/Thermoquad/vrctl/pkg/vrc"
	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var bridgeCmd = &cobra.Command{
	Use:   "bridge",
	Short: "Bridge MQTT topics to device commands",
	Long: `Subscribe to <prefix>/<node>/set and run each message as a device command,
e.g. "on", "off" or "level 128". The result is published to
<prefix>/<node>/state: the reading for queries, "ok" for accepted commands
or "error: ..." otherwise.

Commands run one at a time in arrival order since the controller allows
only one outstanding request. Broker and prefix come from the mqtt section
of the config file; set metrics_addr to expose Prometheus metrics.`,
	Args: cobra.NoArgs,
	RunE: runBridge,
}

func init() {
	rootCmd.AddCommand(bridgeCmd)
}

// bridgeJob is one received set message.
type bridgeJob struct {
	node    string
	payload string
}

// bridge serialises MQTT requests onto the controller.
type bridge struct {
	cfg     *config.Config
	ctrl    *vrc.Controller
	client  mqtt.Client
	metrics *metrics.Metrics
	jobs    chan bridgeJob
	log     zerolog.Logger
}

func runBridge(cmd *cobra.Command, args []string) error {
	a := appFrom(cmd)
	m := metrics.New()

	s, err := openSession(a, vrc.WithObserver(m))
	if err != nil {
		return err
	}
	defer s.Close()

	b := &bridge{
		cfg:     a.cfg,
		ctrl:    vrc.NewController(s.engine, a.log),
		metrics: m,
		jobs:    make(chan bridgeJob, 32),
		log:     a.log.With().Str("component", "bridge").Logger(),
	}

	if err := b.connect(); err != nil {
		return err
	}
	defer b.client.Disconnect(250)

	g, ctx := errgroup.WithContext(cmd.Context())
	g.Go(func() error { return b.work(ctx) })
	if a.cfg.MetricsAddr != "" {
		g.Go(func() error { return serveMetrics(ctx, a.cfg.MetricsAddr, m, b.log) })
	}
	return g.Wait()
}

func (b *bridge) connect() error {
	mc := b.cfg.MQTT
	clientID := mc.ClientID
	if clientID == "" {
		clientID = "vrctl-" + uuid.NewString()[:8]
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(mc.Broker)
	opts.SetClientID(clientID)
	opts.SetUsername(mc.Username)
	opts.SetPassword(mc.Password)
	opts.SetConnectTimeout(10 * time.Second)
	opts.SetKeepAlive(30 * time.Second)
	opts.SetAutoReconnect(true)

	opts.SetConnectionLostHandler(func(client mqtt.Client, err error) {
		b.log.Warn().Err(err).Msg("MQTT connection lost")
	})

	// Subscribe on every (re)connect since the session is not persistent.
	opts.SetOnConnectHandler(func(client mqtt.Client) {
		topic := mc.TopicPrefix + "/+/set"
		token := client.Subscribe(topic, mc.QoS, b.onMessage)
		if token.Wait() && token.Error() != nil {
			b.log.Error().Err(token.Error()).Str("topic", topic).Msg("subscribe failed")
			return
		}
		b.log.Info().Str("topic", topic).Msg("Connected to MQTT broker")
	})

	b.client = mqtt.NewClient(opts)
	b.log.Info().Str("broker", mc.Broker).Str("client_id", clientID).Msg("connecting to MQTT broker")
	if token := b.client.Connect(); token.Wait() && token.Error() != nil {
		return errors.Wrap(token.Error(), "connect to MQTT broker")
	}
	return nil
}

// onMessage runs on the paho goroutine and only queues the request.
func (b *bridge) onMessage(client mqtt.Client, msg mqtt.Message) {
	node, ok := nodeFromTopic(b.cfg.MQTT.TopicPrefix, msg.Topic())
	if !ok {
		return
	}
	job := bridgeJob{node: node, payload: strings.TrimSpace(string(msg.Payload()))}
	select {
	case b.jobs <- job:
	default:
		b.log.Warn().Str("node", node).Msg("command queue full, dropping request")
	}
}

// work is the only goroutine that touches the controller.
func (b *bridge) work(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case job := <-b.jobs:
			state, err := b.run(ctx, job)
			if err != nil {
				return err
			}
			b.publish(job.node, state)
		}
	}
}

// run executes one job and returns the state payload. Only errors that
// leave the link unusable are returned.
func (b *bridge) run(ctx context.Context, job bridgeJob) (string, error) {
	targets, err := b.cfg.Resolve(job.node)
	if err != nil {
		return "error: " + err.Error(), nil
	}
	command, err := vrc.ParseCommand(job.payload)
	if err != nil {
		return "error: " + err.Error(), nil
	}

	for _, target := range targets {
		if err := command.Validate(target); err != nil {
			return "error: " + err.Error(), nil
		}
	}

	var readings []string
	for _, target := range targets {
		out, err := b.ctrl.Run(ctx, target, command)
		b.metrics.Command(command.Kind, out, err)
		switch {
		case vrc.IsFatal(err):
			return "", err
		case err != nil:
			return "error: " + err.Error(), nil
		case out.Rejected():
			return fmt.Sprintf("error: X%03d", out.Code), nil
		case out.Reading != "":
			readings = append(readings, out.Reading)
		}
	}
	if len(readings) == 0 {
		return "ok", nil
	}
	return strings.Join(readings, ","), nil
}

func (b *bridge) publish(node, state string) {
	topic := b.cfg.MQTT.TopicPrefix + "/" + node + "/state"
	token := b.client.Publish(topic, b.cfg.MQTT.QoS, true, state)
	if token.WaitTimeout(5*time.Second) && token.Error() != nil {
		b.log.Error().Err(token.Error()).Str("topic", topic).Msg("publish failed")
		return
	}
	b.log.Debug().Str("topic", topic).Str("state", state).Msg("published")
}

// nodeFromTopic extracts <node> from <prefix>/<node>/set.
func nodeFromTopic(prefix, topic string) (string, bool) {
	rest, ok := strings.CutPrefix(topic, prefix+"/")
	if !ok {
		return "", false
	}
	node, ok := strings.CutSuffix(rest, "/set")
	if !ok || node == "" || strings.Contains(node, "/") {
		return "", false
	}
	return node, true
}

func serveMetrics(ctx context.Context, addr string, m *metrics.Metrics, log zerolog.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK\n"))
	})

	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	log.Info().Str("addr", addr).Msg("metrics server listening")
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return errors.Wrap(err, "metrics server")
	}
	return nil
}
