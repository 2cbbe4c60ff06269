package service

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

// Sweeper runs the periodic background jobs: rule expiry and the enterprise
// feature refresh. Each run is independent; a failed run is logged and the
// next one proceeds normally.
type Sweeper struct {
	cron       *cron.Cron
	acl        *ACLService
	features   *Features
	dispatcher *Dispatcher
	log        logrus.FieldLogger
}

// NewSweeper schedules the jobs using cron specs such as "@every 1m".
func NewSweeper(
	acl *ACLService,
	features *Features,
	dispatcher *Dispatcher,
	log logrus.FieldLogger,
	expirySpec, enterpriseSpec string,
) (*Sweeper, error) {
	clog := cronLogger{log}
	s := &Sweeper{
		cron: cron.New(
			cron.WithLogger(clog),
			cron.WithChain(cron.Recover(clog), cron.SkipIfStillRunning(clog)),
		),
		acl:        acl,
		features:   features,
		dispatcher: dispatcher,
		log:        log,
	}
	if _, err := s.cron.AddFunc(expirySpec, s.sweepExpired); err != nil {
		return nil, fmt.Errorf("scheduling expiry sweep %q: %w", expirySpec, err)
	}
	if _, err := s.cron.AddFunc(enterpriseSpec, s.sweepEnterprise); err != nil {
		return nil, fmt.Errorf("scheduling enterprise sweep %q: %w", enterpriseSpec, err)
	}
	return s, nil
}

// Start runs the scheduler in its own goroutine.
func (s *Sweeper) Start() {
	s.cron.Start()
}

// Stop stops scheduling and waits for running jobs until ctx is done.
func (s *Sweeper) Stop(ctx context.Context) {
	done := s.cron.Stop()
	select {
	case <-done.Done():
	case <-ctx.Done():
	}
}

func (s *Sweeper) sweepExpired() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	if _, err := s.acl.ExpireRules(ctx, time.Now()); err != nil {
		s.log.WithError(err).Error("Expiry sweep failed")
	}
}

func (s *Sweeper) sweepEnterprise() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	changed, err := s.features.Refresh(ctx)
	if err != nil {
		s.log.WithError(err).Error("Enterprise sweep failed")
		return
	}
	if !changed {
		return
	}
	s.log.WithField("enterprise_enabled", s.features.EnterpriseEnabled()).Info("Enterprise status changed")
	if err := s.dispatcher.RecomputeAll(ctx); err != nil {
		s.log.WithError(err).Error("Enterprise sweep recompute failed")
	}
}

// cronLogger adapts logrus to cron.Logger.
type cronLogger struct {
	log logrus.FieldLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.log.WithFields(kvFields(keysAndValues)).Debug("cron: " + msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.log.WithError(err).WithFields(kvFields(keysAndValues)).Error("cron: " + msg)
}

func kvFields(kv []any) logrus.Fields {
	fields := logrus.Fields{}
	for i := 0; i+1 < len(kv); i += 2 {
		fields[fmt.Sprint(kv[i])] = kv[i+1]
	}
	return fields
}
