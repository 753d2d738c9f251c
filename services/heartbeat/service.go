package heartbeat

import (
	"context"
	"sync/atomic"
	"time"

	"loranode-go/bus"
	"loranode-go/lorawan"
	"loranode-go/sched"
	"loranode-go/services/config"
	"loranode-go/x/logx"
)

// Message is logged on every beat.
const Message = "Hello world from the heartbeat task!"

type Service struct {
	ex     *sched.Executor
	conn   *bus.Connection
	log    logx.Logger
	period time.Duration

	unjoined bool
	beats    atomic.Uint32
}

func New(ex *sched.Executor, conn *bus.Connection, log logx.Logger, period time.Duration) *Service {
	return &Service{ex: ex, conn: conn, log: log, period: period}
}

// Beats counts the lines logged so far.
func (s *Service) Beats() uint32 { return s.beats.Load() }

// Run logs a line every period until ctx ends. It follows config changes
// on config/heartbeat and marks lines while the device is unjoined.
func (s *Service) Run(ctx context.Context) error {
	cfgSub := s.conn.Subscribe(config.HeartbeatTopic())
	defer s.conn.Unsubscribe(cfgSub)
	stateSub := s.conn.Subscribe(lorawan.StateTopic)
	defer s.conn.Unsubscribe(stateSub)

	tick := s.ex.NewTicker(s.period)
	for {
		s.poll(tick, cfgSub, stateSub)
		if s.unjoined {
			s.log.Info(Message + " (unjoined)")
		} else {
			s.log.Info(Message)
		}
		s.beats.Add(1)
		if err := tick.Next(ctx); err != nil {
			return err
		}
	}
}

// poll drains pending messages without blocking.
func (s *Service) poll(tick *sched.Ticker, cfgSub, stateSub *bus.Subscription) {
	for {
		select {
		case msg := <-cfgSub.Channel():
			if hb, ok := msg.Payload.(config.HeartbeatConfig); ok && hb.Period > 0 && hb.Period != tick.Period() {
				tick.Reset(hb.Period)
				s.log.Info("heartbeat period changed", logx.Dur("period", hb.Period))
			}
		case msg := <-stateSub.Channel():
			if st, ok := msg.Payload.(lorawan.State); ok {
				s.unjoined = st == lorawan.Unjoined
			}
		default:
			return
		}
	}
}
