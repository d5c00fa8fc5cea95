package indexdb

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"voxelpipes.ai/internal/protocol"
)

// RemoteConfig configures a RemoteIndex that batches records to an HTTP
// ingest endpoint.
type RemoteConfig struct {
	Endpoint      string
	Token         string
	InstanceID    string
	BatchSize     int
	FlushInterval time.Duration
	HTTPTimeout   time.Duration
	// MaxRetained caps how many unsent records are kept across failed flushes.
	MaxRetained int
	Logger      logrus.FieldLogger
}

// RemoteIndex posts {"events":[...]} batches to Endpoint. Failed batches are
// retained and retried on the next flush.
type RemoteIndex struct {
	cfg        RemoteConfig
	httpClient *http.Client

	ch   chan remoteEvent
	wg   sync.WaitGroup
	once sync.Once

	closed atomic.Bool

	queueDropped atomic.Uint64
	retainDrop   atomic.Uint64
	flushOK      atomic.Uint64
	flushFail    atomic.Uint64
}

type remoteEvent struct {
	Kind       string `json:"kind"`
	InstanceID string `json:"instance_id"`
	WorldID    string `json:"world_id"`
	Payload    any    `json:"payload"`
}

type RemoteStats struct {
	QueueDepth         int
	QueueCapacity      int
	QueueDroppedTotal  uint64
	RetainDroppedTotal uint64
	FlushOKTotal       uint64
	FlushFailTotal     uint64
}

func OpenRemote(cfg RemoteConfig) (*RemoteIndex, error) {
	cfg.Endpoint = strings.TrimSpace(cfg.Endpoint)
	cfg.InstanceID = strings.TrimSpace(cfg.InstanceID)
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("empty ingest endpoint")
	}
	if cfg.InstanceID == "" {
		return nil, fmt.Errorf("empty instance id")
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 128
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = 500 * time.Millisecond
	}
	if cfg.HTTPTimeout <= 0 {
		cfg.HTTPTimeout = 10 * time.Second
	}
	if cfg.MaxRetained <= 0 {
		cfg.MaxRetained = 16 * cfg.BatchSize
	}
	if cfg.Logger == nil {
		l := logrus.New()
		l.SetOutput(io.Discard)
		cfg.Logger = l
	}

	d := &RemoteIndex{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.HTTPTimeout},
		ch:         make(chan remoteEvent, 32768),
	}
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.loop()
	}()
	return d, nil
}

func (d *RemoteIndex) Close() error {
	if d == nil {
		return nil
	}
	d.once.Do(func() {
		d.closed.Store(true)
		close(d.ch)
		d.wg.Wait()
	})
	return nil
}

func (d *RemoteIndex) WriteItemMoved(m protocol.ItemMovedMsg) error {
	d.enqueue(remoteEvent{Kind: "transfer", WorldID: m.WorldID, Payload: m})
	return nil
}

func (d *RemoteIndex) WriteRescan(m protocol.RescanMsg) error {
	d.enqueue(remoteEvent{Kind: "rescan", WorldID: m.WorldID, Payload: m})
	return nil
}

func (d *RemoteIndex) Stats() RemoteStats {
	if d == nil {
		return RemoteStats{}
	}
	return RemoteStats{
		QueueDepth:         len(d.ch),
		QueueCapacity:      cap(d.ch),
		QueueDroppedTotal:  d.queueDropped.Load(),
		RetainDroppedTotal: d.retainDrop.Load(),
		FlushOKTotal:       d.flushOK.Load(),
		FlushFailTotal:     d.flushFail.Load(),
	}
}

func (d *RemoteIndex) enqueue(ev remoteEvent) {
	if d == nil || d.closed.Load() {
		return
	}
	ev.InstanceID = d.cfg.InstanceID
	select {
	case d.ch <- ev:
	default:
		d.queueDropped.Add(1)
		d.cfg.Logger.WithFields(logrus.Fields{"kind": ev.Kind, "world": ev.WorldID}).Warn("remote index queue full; drop")
	}
}

func (d *RemoteIndex) loop() {
	ticker := time.NewTicker(d.cfg.FlushInterval)
	defer ticker.Stop()

	batch := make([]remoteEvent, 0, d.cfg.BatchSize)
	flush := func() {
		if len(batch) == 0 {
			return
		}
		n := min(len(batch), d.cfg.BatchSize)
		if err := d.sendBatch(batch[:n]); err != nil {
			d.flushFail.Add(1)
			d.cfg.Logger.WithError(err).WithField("batch", n).Warn("remote index flush failed")
			if over := len(batch) - d.cfg.MaxRetained; over > 0 {
				d.retainDrop.Add(uint64(over))
				batch = append(batch[:0], batch[over:]...)
			}
			return
		}
		d.flushOK.Add(1)
		batch = append(batch[:0], batch[n:]...)
	}

	for {
		select {
		case ev, ok := <-d.ch:
			if !ok {
				for len(batch) > 0 {
					before := len(batch)
					flush()
					if len(batch) >= before {
						break
					}
				}
				return
			}
			batch = append(batch, ev)
			if len(batch) >= d.cfg.BatchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		}
	}
}

func (d *RemoteIndex) sendBatch(events []remoteEvent) error {
	body := struct {
		Events []remoteEvent `json:"events"`
	}{Events: events}
	buf, err := json.Marshal(body)
	if err != nil {
		return err
	}

	var lastErr error
	for attempt := 0; attempt < 3; attempt++ {
		req, err := http.NewRequest(http.MethodPost, d.cfg.Endpoint, bytes.NewReader(buf))
		if err != nil {
			return err
		}
		req.Header.Set("content-type", "application/json")
		if d.cfg.Token != "" {
			req.Header.Set("x-pipes-index-token", d.cfg.Token)
		}

		resp, err := d.httpClient.Do(req)
		if err == nil {
			respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 16*1024))
			_ = resp.Body.Close()
			if resp.StatusCode >= 200 && resp.StatusCode < 300 {
				return nil
			}
			err = fmt.Errorf("status=%d body=%s", resp.StatusCode, strings.TrimSpace(string(respBody)))
		}
		lastErr = err
		time.Sleep(time.Duration(100*(1<<attempt)) * time.Millisecond)
	}
	return lastErr
}
