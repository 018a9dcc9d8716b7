package session

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/forcesim/forcesim-client/forcesim"
	"github.com/forcesim/forcesim-client/forcesim/client"
	"github.com/forcesim/forcesim-client/forcesim/loader"
	"github.com/forcesim/forcesim-client/forcesim/points"
	"github.com/forcesim/forcesim-client/forcesim/subscriber"
)

// outputDirLayout names the per-run output directory.
const outputDirLayout = "2006-01-02_15-04-05"

// Runner executes one configured run: it populates the market, emits the
// info sequence block by block and collects what the subscribers receive.
type Runner struct {
	Client      *client.Client
	Config      *loader.Config
	Agents      map[string]loader.AgentEntry
	Subscribers map[string]forcesim.SubscriberConfig
	Info        map[string]forcesim.Info
	Log         logrus.FieldLogger
	// Metrics, when set, receives the listener counters of every subscriber.
	Metrics *subscriber.Metrics
	// Now defaults to time.Now.
	Now func() time.Time
}

// Result describes a finished run.
type Result struct {
	OutputDir string
	// PointFiles maps a graphed subscriber name to its exported points file.
	PointFiles map[string]string
}

type runSubscriber struct {
	name     string
	sub      *subscriber.Subscriber
	recorder *points.Recorder
}

type run struct {
	*Runner
	sets        []*AgentSet
	subscribers []runSubscriber
	listeners   []*subscriber.Listener
}

// Run performs the run. Whatever was registered is removed from the instance
// before Run returns, also when the run fails or ctx is cancelled.
func (r *Runner) Run(ctx context.Context) (res *Result, err error) {
	if r.Log == nil {
		r.Log = logrus.StandardLogger()
	}
	if r.Now == nil {
		r.Now = time.Now
	}
	rn := &run{Runner: r}
	defer func() {
		if terr := rn.teardown(context.WithoutCancel(ctx)); terr != nil {
			err = errors.Join(err, terr)
		}
	}()
	return rn.execute(ctx)
}

func (rn *run) execute(ctx context.Context) (*Result, error) {
	c, cfg := rn.Client, rn.Config
	if _, err := c.Reset(ctx); err != nil {
		return nil, fmt.Errorf("resetting market: %w", err)
	}
	if _, err := c.Configure(ctx, client.MarketOptions{IterBlock: cfg.IterBlock()}); err != nil {
		return nil, fmt.Errorf("configuring market: %w", err)
	}

	outDir := filepath.Join(cfg.OutputDir, rn.Now().Format(outputDirLayout))
	if err := os.MkdirAll(outDir, 0755); err != nil {
		return nil, fmt.Errorf("creating output directory: %w", err)
	}
	rn.Log.Infof("writing results to %s", outDir)

	if err := rn.registerAgents(ctx); err != nil {
		return nil, err
	}
	if err := rn.createSubscribers(); err != nil {
		return nil, err
	}
	if err := rn.startSubscribers(ctx); err != nil {
		return nil, err
	}

	if _, err := c.Start(ctx); err != nil {
		return nil, fmt.Errorf("starting market: %w", err)
	}
	for block, names := range cfg.InfoSequence {
		if err := rn.runBlock(ctx, block, names); err != nil {
			return nil, err
		}
	}
	if len(cfg.InfoSequence) > 0 {
		if err := rn.waitFlushed(ctx); err != nil {
			return nil, err
		}
	}

	res := &Result{OutputDir: outDir, PointFiles: make(map[string]string)}
	for _, rs := range rn.subscribers {
		if rs.recorder == nil {
			continue
		}
		path := filepath.Join(outDir, rs.name+".json")
		if err := rs.recorder.Export(path); err != nil {
			return nil, err
		}
		res.PointFiles[rs.name] = path
	}
	return res, nil
}

func (rn *run) registerAgents(ctx context.Context) error {
	for _, name := range sortedKeys(rn.Config.Agents) {
		count := rn.Config.Agents[name]
		entry, ok := rn.Agents[name]
		if !ok {
			rn.Log.Warnf("agent %q not found in loaded agents; skipping", name)
			continue
		}
		if count == 0 {
			continue
		}
		set := NewAgentSet(rn.Client, name, entry.Spec, count, rn.Log.WithField("agents", name))
		if err := set.Register(ctx); err != nil {
			return err
		}
		rn.sets = append(rn.sets, set)
	}
	return nil
}

func (rn *run) newRecorder(name, ref string) *points.Recorder {
	if !rn.Config.Subscribers[ref].Graph {
		return nil
	}
	return points.NewRecorder(name)
}

func (rn *run) subscriberOptions(name string, rec *points.Recorder) []subscriber.Option {
	opts := []subscriber.Option{
		subscriber.WithLogger(rn.Log.WithField("subscriber", name)),
		subscriber.WithMetrics(rn.Metrics),
	}
	if rec != nil {
		opts = append(opts, subscriber.WithGraph(rec))
	}
	return opts
}

func (rn *run) createSubscribers() error {
	referenced := make(map[string]bool)
	for _, entry := range rn.Agents {
		if entry.Subscriber != "" {
			referenced[entry.Subscriber] = true
		}
	}
	for _, name := range sortedKeys(rn.Config.Subscribers) {
		config, ok := rn.Subscribers[name]
		if !ok {
			rn.Log.Warnf("subscriber %q not found in loaded subscribers; skipping", name)
			continue
		}
		if config.Type == forcesim.AgentAction && !config.HasParameter() {
			if referenced[name] {
				rn.Log.Debugf("subscriber %q has no agent parameter; used only through agent references", name)
			} else {
				rn.Log.Warnf("subscriber %q rejected: AGENT_ACTION needs an agent parameter and no agent references it", name)
			}
			continue
		}
		rec := rn.newRecorder(name, name)
		sub := subscriber.New(rn.Client, config, rn.subscriberOptions(name, rec)...)
		rn.subscribers = append(rn.subscribers, runSubscriber{name: name, sub: sub, recorder: rec})
	}

	// Agents referencing a subscriber definition each get an AGENT_ACTION
	// subscriber; those of one set share a listener.
	for _, set := range rn.sets {
		ref := rn.Agents[set.Name].Subscriber
		if ref == "" {
			continue
		}
		config, ok := rn.Subscribers[ref]
		if !ok {
			rn.Log.Warnf("agent %q references unknown subscriber %q; skipping", set.Name, ref)
			continue
		}
		config = config.WithDefaults()
		l := subscriber.NewListener(config.Addr, config.Port, forcesim.AgentAction,
			subscriber.WithListenerLogger(rn.Log.WithField("listener", ref)),
			subscriber.WithListenerMetrics(rn.Metrics))
		rn.listeners = append(rn.listeners, l)
		for _, agent := range set.Agents() {
			agentRec, _ := agent.Record()
			name := fmt.Sprintf("%s-%s-%d", ref, set.Name, agentRec.ID)
			rec := rn.newRecorder(name, ref)
			opts := append(rn.subscriberOptions(name, rec), subscriber.WithListener(l))
			sub, err := agent.SubscribeAgentAction(config, opts...)
			if err != nil {
				return err
			}
			rn.subscribers = append(rn.subscribers, runSubscriber{name: name, sub: sub, recorder: rec})
		}
	}
	return nil
}

func (rn *run) startSubscribers(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, rs := range rn.subscribers {
		rs := rs
		g.Go(func() error {
			if err := rs.sub.Start(gctx); err != nil {
				return fmt.Errorf("starting subscriber %s: %w", rs.name, err)
			}
			return nil
		})
	}
	return g.Wait()
}

func (rn *run) runBlock(ctx context.Context, block int, names []string) error {
	infos := make([]forcesim.Info, 0, len(names))
	for _, name := range names {
		info, ok := rn.Info[name]
		if !ok {
			rn.Log.Warnf("info %q not found in loaded info; skipping", name)
			continue
		}
		infos = append(infos, info)
	}

	rn.Log.Infof("block %d: emitting %d infos and running %d iterations", block, len(infos), rn.Config.IterBlock())
	if _, err := rn.Client.EmitInfo(ctx, infos); err != nil {
		return fmt.Errorf("block %d: emitting info: %w", block, err)
	}
	if _, err := rn.Client.Run(ctx, rn.Config.IterBlock()); err != nil {
		return fmt.Errorf("block %d: running market: %w", block, err)
	}
	if _, err := rn.Client.WaitForStop(ctx); err != nil {
		return fmt.Errorf("block %d: waiting for stop: %w", block, err)
	}
	return nil
}

// waitFlushed waits for the end-of-batch signal of every active subscriber.
func (rn *run) waitFlushed(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, rs := range rn.subscribers {
		rs := rs
		if rs.sub.State() != subscriber.Active {
			continue
		}
		g.Go(func() error {
			if err := rs.sub.WaitFlushed(gctx); err != nil {
				return fmt.Errorf("waiting for subscriber %s to flush: %w", rs.name, err)
			}
			rn.Log.Debugf("subscriber %s flushed with %d points", rs.name, rs.sub.Len())
			return nil
		})
	}
	return g.Wait()
}

func (rn *run) teardown(ctx context.Context) error {
	var errs []error
	for _, rs := range rn.subscribers {
		if _, ok := rs.sub.Record(); !ok {
			continue
		}
		if err := rs.sub.Delete(ctx); err != nil {
			errs = append(errs, fmt.Errorf("deleting subscriber %s: %w", rs.name, err))
		}
	}
	for _, l := range rn.listeners {
		if err := l.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	for i := len(rn.sets) - 1; i >= 0; i-- {
		if err := rn.sets[i].Delete(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
