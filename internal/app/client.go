package app

import (
	"context"
	"fmt"
	"math/rand/v2"
	"net/url"
	"time"

	"github.com/1ureka/gamenet/internal/adapter"
	"github.com/1ureka/gamenet/internal/config"
	"github.com/1ureka/gamenet/internal/protocol"
	"github.com/1ureka/gamenet/internal/signaling"
	"github.com/1ureka/gamenet/internal/util"
)

// ackWait is how long the client keeps the session open after its last send
// so outstanding acks can arrive.
const ackWait = 500 * time.Millisecond

// GameData is the synthetic player update the demo client sends.
type GameData struct {
	PlayerID int     `json:"player_id"`
	PosX     float64 `json:"pos_x"`
	PosY     float64 `json:"pos_y"`
	Dir      int     `json:"dir"`
	Location string  `json:"location"`
}

var (
	directions = []int{0, 90, 180, 270}
	locations  = []string{"forest", "desert", "city", "mountain", "beach"}
)

// randomGameData returns a random player update.
func randomGameData(rng *rand.Rand) GameData {
	return GameData{
		PlayerID: rng.IntN(10) + 1,
		PosX:     rng.Float64() * 500,
		PosY:     rng.Float64() * 500,
		Dir:      directions[rng.IntN(len(directions))],
		Location: locations[rng.IntN(len(locations))],
	}
}

// signalURL returns the normalized signaling URL, carrying pin unless the URL
// already has one.
func signalURL(raw, pin string) (string, error) {
	norm, err := config.NormalizeURL(raw)
	if err != nil {
		return "", err
	}
	if pin == "" {
		return norm, nil
	}
	u, err := url.Parse(norm)
	if err != nil {
		return "", err
	}
	q := u.Query()
	if q.Get("pin") == "" {
		q.Set("pin", pin)
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}

// ackLog logs what the host echoes back.
func ackLog(id uint32) adapter.HandlerFunc {
	return func(rec adapter.Record, reliable bool) {
		util.LogDebug("[%08x] [SERVER -> CLIENT] %s seq=%d RTT=%.2fms %s",
			id, rec.Channel.Short(), rec.Seq, rec.RTTMs, truncate(string(rec.Payload), maxPayloadLog))
	}
}

// RunClient connects to the host and streams cfg.Demo.Count random game
// updates, each on the reliable channel with probability
// cfg.Demo.ReliableRatio.
func RunClient(ctx context.Context, cfg *config.Config) error {
	wsURL, err := signalURL(cfg.Signal.URL, cfg.Signal.PIN)
	if err != nil {
		return err
	}

	tr, err := signaling.EstablishAsClient(ctx, wsURL, cfg.Transport)
	if err != nil {
		return fmt.Errorf("failed to establish connection: %w", err)
	}

	id := util.NewSessionID("client", wsURL)
	final := make(chan adapter.Report, 1)
	s := adapter.NewSession(ctx, tr, ackLog(id),
		adapter.WithID(id),
		adapter.WithAutoAck(false),
		adapter.WithCloseHook(func(r adapter.Report) { final <- r }),
	)
	defer s.Close()

	util.StartStatsReporter(ctx, cfg.Report.Interval.Duration, nil)
	util.LogSuccess("[%08x] P2P session established, sending %d updates", id, cfg.Demo.Count)

	if err := stream(ctx, s, cfg.Demo); err != nil {
		util.LogWarning("[%08x] stream stopped: %v", id, err)
	}

	select {
	case <-time.After(ackWait):
	case <-s.Done():
	}
	s.Close()

	r := <-final
	sent := r.Reliable.PacketsSent + r.Unreliable.PacketsSent
	acked := r.Reliable.PacketsDelivered + r.Unreliable.PacketsDelivered
	util.LogInfo("[%08x] %d updates sent, %d acknowledged", id, sent, acked)
	printReports("Client statistics", []adapter.Report{r})
	return nil
}

// sender is the part of a Session stream uses.
type sender interface {
	Send(ctx context.Context, payload any, reliable bool) (uint16, error)
	Done() <-chan struct{}
}

// stream sends demo.Count updates spaced by demo.Interval.
func stream(ctx context.Context, s sender, demo config.Demo) error {
	rng := rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), 0))

	var ticker *time.Ticker
	if demo.Interval.Duration > 0 {
		ticker = time.NewTicker(demo.Interval.Duration)
		defer ticker.Stop()
	}

	for i := range demo.Count {
		reliable := rng.Float64() < demo.ReliableRatio
		data := randomGameData(rng)

		seq, err := s.Send(ctx, data, reliable)
		if err != nil {
			return fmt.Errorf("update %d: %w", i, err)
		}
		util.LogDebug("sent update %d as %s seq=%d (player %d at %s)",
			i, protocol.ChannelFromReliable(reliable).Short(), seq, data.PlayerID, data.Location)

		if ticker == nil {
			continue
		}
		select {
		case <-ticker.C:
		case <-s.Done():
			return adapter.ErrClosed
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}
