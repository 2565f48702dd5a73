package alerting

import (
	"context"
	"crypto/tls"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mosajjal/Go-Splunk-HTTP/splunk/v2"

	"github.com/miradorstack/mirador-logscope/internal/models"
)

// HECConfig configures delivery to a Splunk HTTP Event Collector.
type HECConfig struct {
	Endpoint      string
	Token         string
	ChannelID     string
	Index         string
	Source        string
	SourceType    string
	Host          string
	TLSSkipVerify bool
	Timeout       time.Duration
}

// eventLogger is the subset of the Splunk client the notifier needs.
type eventLogger interface {
	LogEvents(events []*splunk.Event) error
}

// HECNotifier posts one Splunk event per emitted alert.
type HECNotifier struct {
	client eventLogger
	cfg    HECConfig
}

// NewHECNotifier builds a Splunk client for cfg.Endpoint.
func NewHECNotifier(cfg HECConfig) (*HECNotifier, error) {
	if cfg.Endpoint == "" || cfg.Token == "" {
		return nil, fmt.Errorf("hec endpoint and token are required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if cfg.Source == "" {
		cfg.Source = "logscope"
	}
	if cfg.SourceType == "" {
		cfg.SourceType = "logscope:alert"
	}
	if cfg.Host == "" {
		cfg.Host, _ = os.Hostname()
	}

	endpoint := strings.TrimRight(cfg.Endpoint, "/")
	if !strings.HasSuffix(endpoint, "/services/collector") {
		endpoint += "/services/collector"
	}
	channelID := cfg.ChannelID
	if _, err := uuid.Parse(channelID); err != nil {
		channelID = uuid.NewString()
	}

	httpClient := &http.Client{
		Timeout: cfg.Timeout,
		Transport: &http.Transport{
			TLSClientConfig: &tls.Config{InsecureSkipVerify: cfg.TLSSkipVerify},
		},
	}
	client := splunk.NewClient(httpClient, endpoint, cfg.Token, channelID, cfg.Source, cfg.SourceType, cfg.Index)
	return &HECNotifier{client: client, cfg: cfg}, nil
}

func (n *HECNotifier) Name() string { return "hec" }

// Notify sends the decision as a single structured event. The Splunk client
// has no context support, so a cancelled ctx returns early while the request
// itself stays bounded by HECConfig.Timeout.
func (n *HECNotifier) Notify(ctx context.Context, d models.AlertDecision) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	event := &splunk.Event{
		Time:       splunk.EventTime{Time: d.DecidedAt},
		Host:       n.cfg.Host,
		Source:     n.cfg.Source,
		SourceType: n.cfg.SourceType,
		Index:      n.cfg.Index,
		Event:      alertPayload(d),
	}

	done := make(chan error, 1)
	go func() { done <- n.client.LogEvents([]*splunk.Event{event}) }()
	select {
	case <-ctx.Done():
		return fmt.Errorf("send hec event: %w", ctx.Err())
	case err := <-done:
		if err != nil {
			return fmt.Errorf("send hec event: %w", err)
		}
		return nil
	}
}

func alertPayload(d models.AlertDecision) map[string]any {
	events := make([]map[string]any, 0, len(d.Events))
	for _, ev := range d.Events {
		events = append(events, map[string]any{
			"metric":    ev.Metric,
			"source":    ev.Source,
			"method":    ev.Method,
			"index":     ev.Index,
			"timestamp": ev.Timestamp.UTC().Format(time.RFC3339),
			"observed":  ev.Observed,
			"baseline":  ev.Baseline,
			"score":     ev.Score,
			"severity":  string(ev.Severity),
		})
	}
	return map[string]any{
		"alert_id":        d.ID,
		"subject":         Subject(d),
		"key":             d.Key.String(),
		"window":          d.WindowID,
		"severity":        string(d.MaxSeverity()),
		"events":          events,
		"recommendations": d.Recommendations,
	}
}
