// Package keeper drives vault rounds on a cron schedule: end the open round,
// convert the queue in batches, start the next round.
//
// Capital sits in the strategy only between a round's end and the next
// start. With just Schedule set both happen in one tick, which suits
// strategies that settle at once. Setting StartSchedule as well ends and
// processes on Schedule and starts on StartSchedule, leaving the capital
// invested in between.
package keeper

import (
	"context"
	"time"

	"github.com/luxfi/log"
	"github.com/pkg/errors"
	"github.com/robfig/cron/v3"

	"github.com/luxfi/roundvault/pkg/api"
	"github.com/luxfi/roundvault/pkg/asset"
	"github.com/luxfi/roundvault/pkg/vault"
)

// DefaultBatchSize bounds how many queued deposits one processing call converts.
const DefaultBatchSize = 100

type Config struct {
	// Schedule is a cron spec with a leading seconds field.
	Schedule string
	// StartSchedule, when set, moves round starts off Schedule.
	StartSchedule string
	BatchSize     int
	// Timeout bounds one run over all vaults; zero means none.
	Timeout time.Duration
}

// Keeper acts as the controller of every vault on its host.
type Keeper struct {
	host   *api.Host
	config Config
	cron   *cron.Cron
	logger log.Logger
}

// Result summarises one vault cycle.
type Result struct {
	Vault     asset.Address
	Round     uint64
	Processed int
	Pending   int
}

func New(host *api.Host, config Config, logger log.Logger) (*Keeper, error) {
	if logger == nil {
		logger = log.Root().New("module", "keeper")
	}
	if config.BatchSize <= 0 {
		config.BatchSize = DefaultBatchSize
	}
	k := &Keeper{
		host:   host,
		config: config,
		cron:   cron.New(cron.WithSeconds()),
		logger: logger,
	}
	if config.StartSchedule != "" && config.StartSchedule == config.Schedule {
		return nil, errors.Errorf("start schedule %q equals the end schedule", config.StartSchedule)
	}
	end := k.RunOnce
	if config.StartSchedule != "" {
		end = k.EndAll
		if err := k.schedule(config.StartSchedule, k.StartAll); err != nil {
			return nil, err
		}
	}
	if config.Schedule != "" {
		if err := k.schedule(config.Schedule, end); err != nil {
			return nil, err
		}
	}
	return k, nil
}

func (k *Keeper) schedule(spec string, run func(context.Context) ([]Result, error)) error {
	if _, err := k.cron.AddFunc(spec, k.tick(run)); err != nil {
		return errors.Wrapf(err, "register schedule %q", spec)
	}
	return nil
}

func (k *Keeper) Start() {
	k.cron.Start()
	k.logger.Info("keeper started",
		"schedule", k.config.Schedule,
		"startSchedule", k.config.StartSchedule,
		"batch", k.config.BatchSize,
	)
}

// Stop halts the scheduler and waits for a running cycle to finish.
func (k *Keeper) Stop() {
	<-k.cron.Stop().Done()
	k.logger.Info("keeper stopped")
}

func (k *Keeper) tick(run func(context.Context) ([]Result, error)) func() {
	return func() {
		ctx := context.Background()
		if k.config.Timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, k.config.Timeout)
			defer cancel()
		}
		if _, err := run(ctx); err != nil {
			k.logger.Error("keeper run failed", "error", err)
		}
	}
}

// RunOnce cycles every vault. A failing vault does not stop the others; the
// first error is returned after all vaults were attempted.
func (k *Keeper) RunOnce(ctx context.Context) ([]Result, error) {
	return k.each(ctx, "cycle", k.Cycle)
}

// EndAll ends the round of every vault and converts its queue.
func (k *Keeper) EndAll(ctx context.Context) ([]Result, error) {
	return k.each(ctx, "end", k.End)
}

// StartAll starts the next round of every vault that is processing.
func (k *Keeper) StartAll(ctx context.Context) ([]Result, error) {
	return k.each(ctx, "start", k.Begin)
}

func (k *Keeper) each(ctx context.Context, phase string, fn func(context.Context, asset.Address) (Result, error)) ([]Result, error) {
	var (
		results []Result
		first   error
	)
	for _, addr := range k.host.Vaults() {
		res, err := fn(ctx, addr)
		if err != nil {
			k.logger.Error("vault "+phase+" failed", "vault", addr.Hex(), "error", err)
			if first == nil {
				first = errors.Wrapf(err, "vault %s", addr.Hex())
			}
			continue
		}
		results = append(results, res)
	}
	return results, first
}

// Cycle rolls one vault into its next round. A vault left in Processing by
// an earlier failed cycle resumes at queue processing.
func (k *Keeper) Cycle(ctx context.Context, addr asset.Address) (Result, error) {
	res, err := k.End(ctx, addr)
	if err != nil {
		return res, err
	}
	processed := res.Processed
	res, err = k.Begin(ctx, addr)
	res.Processed += processed
	return res, err
}

// End ends the vault's open round and converts its queue, leaving the vault
// Processing with its capital invested. A vault already Processing only has
// its queue converted.
func (k *Keeper) End(ctx context.Context, addr asset.Address) (Result, error) {
	res := Result{Vault: addr}
	caller, err := k.host.Registry().Controller(addr)
	if err != nil {
		return res, errors.Wrap(err, "resolve controller")
	}

	state, err := k.state(addr)
	if err != nil {
		return res, err
	}
	if state == vault.Open {
		if err := k.host.Update(addr, func(e *vault.Engine) error {
			return e.EndRound(ctx, caller)
		}); err != nil {
			return res, errors.Wrap(err, "end round")
		}
	}
	if err := k.process(ctx, addr, caller, &res); err != nil {
		return res, err
	}
	k.logger.Info("vault round ended",
		"vault", addr.Hex(),
		"round", res.Round,
		"processed", res.Processed,
		"pending", res.Pending,
	)
	return res, nil
}

// Begin starts the next round of a Processing vault, converting whatever is
// still queued first. An Open vault is left as it is.
func (k *Keeper) Begin(ctx context.Context, addr asset.Address) (Result, error) {
	res := Result{Vault: addr}
	caller, err := k.host.Registry().Controller(addr)
	if err != nil {
		return res, errors.Wrap(err, "resolve controller")
	}

	state, err := k.state(addr)
	if err != nil {
		return res, err
	}
	if state == vault.Open {
		err := k.host.View(addr, func(e *vault.Engine) error {
			res.Round = e.Round().ID
			res.Pending = e.DepositQueueSize()
			return nil
		})
		return res, err
	}
	if err := k.process(ctx, addr, caller, &res); err != nil {
		return res, err
	}
	if err := k.host.Update(addr, func(e *vault.Engine) error {
		if err := e.StartRound(ctx, caller); err != nil {
			return err
		}
		res.Round = e.Round().ID
		res.Pending = e.DepositQueueSize()
		return nil
	}); err != nil {
		return res, errors.Wrap(err, "start round")
	}

	k.logger.Info("vault round started",
		"vault", addr.Hex(),
		"round", res.Round,
		"processed", res.Processed,
		"pending", res.Pending,
	)
	return res, nil
}

func (k *Keeper) state(addr asset.Address) (vault.State, error) {
	var state vault.State
	err := k.host.View(addr, func(e *vault.Engine) error {
		state = e.State()
		return nil
	})
	return state, err
}

// process converts the vault's queue in batches of BatchSize.
func (k *Keeper) process(ctx context.Context, addr, caller asset.Address, res *Result) error {
	owners, err := k.queued(addr)
	if err != nil {
		return err
	}
	for start := 0; start < len(owners); start += k.config.BatchSize {
		if err := ctx.Err(); err != nil {
			return err
		}
		end := min(start+k.config.BatchSize, len(owners))
		if err := k.host.Update(addr, func(e *vault.Engine) error {
			n, err := e.ProcessQueuedDeposits(caller, owners[start:end])
			res.Processed += n
			return err
		}); err != nil {
			return errors.Wrap(err, "process deposits")
		}
	}
	return k.host.View(addr, func(e *vault.Engine) error {
		res.Round = e.Round().ID
		res.Pending = e.DepositQueueSize()
		return nil
	})
}

func (k *Keeper) queued(addr asset.Address) ([]asset.Address, error) {
	var owners []asset.Address
	err := k.host.View(addr, func(e *vault.Engine) error {
		for _, entry := range e.Snapshot().Queue {
			owners = append(owners, entry.Owner)
		}
		return nil
	})
	return owners, err
}
