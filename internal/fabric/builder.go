package fabric

import (
	"context"
	"fmt"
	"time"

	"github.com/martinsuchenak/rackfab/internal/ipam"
	"github.com/martinsuchenak/rackfab/internal/log"
	"github.com/martinsuchenak/rackfab/internal/model"
	"github.com/martinsuchenak/rackfab/internal/ports"
	"github.com/martinsuchenak/rackfab/internal/worker"
)

// LoopbackInterface is the interface name recorded for loopback addresses.
const LoopbackInterface = "Loopback0"

// PoolIDs name the stored supernets a build allocates from.
type PoolIDs struct {
	P2P      string
	Loopback string
}

// Result is the outcome of one build in BuildAll.
type Result struct {
	Name string
	Plan *model.Plan
	Err  error
}

// Builder runs fabric builds against stored address pools.
type Builder struct {
	svc      *ipam.Service
	locker   *ipam.Locker
	catalog  *ports.Catalog
	settings Settings
	pools    PoolIDs
}

func NewBuilder(svc *ipam.Service, locker *ipam.Locker, catalog *ports.Catalog, settings Settings, pools PoolIDs) *Builder {
	if locker == nil {
		locker = ipam.NewLocker()
	}
	return &Builder{
		svc:      svc,
		locker:   locker,
		catalog:  catalog,
		settings: settings,
		pools:    pools,
	}
}

// Plan generates a fabric against the current pool contents without
// storing anything.
func (b *Builder) Plan(ctx context.Context, req Request) (*model.Plan, error) {
	return b.run(ctx, req, false)
}

// Build generates a fabric and records every link /31, loopback /32 and
// their addresses. The first failure stops the build; records written
// before it are left in place.
func (b *Builder) Build(ctx context.Context, req Request) (*model.Plan, error) {
	return b.run(ctx, req, true)
}

func (b *Builder) run(ctx context.Context, req Request, commit bool) (*model.Plan, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	unlock := b.locker.Lock(b.pools.P2P, b.pools.Loopback)
	defer unlock()

	start := time.Now()
	logger := log.With("fabric", req.Name)

	p2p, err := b.svc.Snapshot(ctx, b.pools.P2P)
	if err != nil {
		return nil, fmt.Errorf("point-to-point pool: %w", err)
	}
	loopback, err := b.svc.Snapshot(ctx, b.pools.Loopback)
	if err != nil {
		return nil, fmt.Errorf("loopback pool: %w", err)
	}

	plan, err := Generate(req, b.settings, b.catalog, Pools{P2P: p2p, Loopback: loopback})
	if err != nil {
		return nil, fmt.Errorf("generating %s: %w", req.Name, err)
	}
	logger.Debug("Fabric generated", "nodes", len(plan.Nodes), "links", len(plan.Links))

	if !commit {
		return plan, nil
	}

	if err := b.commit(ctx, plan, p2p, loopback); err != nil {
		logger.Error("Fabric build aborted", "error", err)
		return nil, fmt.Errorf("storing %s: %w", req.Name, err)
	}

	logger.Info("Fabric built",
		"architecture", plan.Architecture,
		"nodes", len(plan.Nodes),
		"links", len(plan.Links),
		"duration", time.Since(start))
	return plan, nil
}

func (b *Builder) commit(ctx context.Context, plan *model.Plan, p2p, loopback *ipam.Pool) error {
	for _, link := range plan.Links {
		if err := ctx.Err(); err != nil {
			return err
		}

		prefix, err := b.svc.CreatePrefix(ctx, ipam.PrefixRequest{
			CIDR:        link.Subnet,
			ParentID:    p2p.ID,
			VRFID:       p2p.VRFID,
			Description: fmt.Sprintf("%s %s - %s %s", link.A.Hostname, link.A.Interface, link.B.Hostname, link.B.Interface),
		})
		if err != nil {
			return err
		}

		for _, ep := range []model.Endpoint{link.A, link.B} {
			_, err := b.svc.CreateAddress(ctx, ipam.AddressRequest{
				Address:   ep.IP,
				PrefixID:  prefix.ID,
				Device:    ep.Hostname,
				Interface: ep.Interface,
			})
			if err != nil {
				return err
			}
		}
	}

	for _, n := range plan.Nodes {
		if err := ctx.Err(); err != nil {
			return err
		}

		prefix, err := b.svc.CreatePrefix(ctx, ipam.PrefixRequest{
			CIDR:        n.Loopback + "/32",
			ParentID:    loopback.ID,
			VRFID:       loopback.VRFID,
			Description: n.Hostname + " loopback",
		})
		if err != nil {
			return err
		}

		_, err = b.svc.CreateAddress(ctx, ipam.AddressRequest{
			Address:   n.Loopback,
			PrefixID:  prefix.ID,
			Device:    n.Hostname,
			Interface: LoopbackInterface,
		})
		if err != nil {
			return err
		}
	}

	return nil
}

// BuildAll runs several builds on a worker pool. Builds share the address
// pools, so their allocation steps still run one at a time; results come
// back in request order.
func (b *Builder) BuildAll(ctx context.Context, reqs []Request, workers int, commit bool) []Result {
	pool := worker.NewWorkerPool(ctx, workers)
	pool.Start()
	defer pool.Stop()

	results := make([]Result, len(reqs))
	ids := make([]string, len(reqs))
	handlers := make([]func(context.Context) error, len(reqs))
	for i := range reqs {
		req := reqs[i]
		ids[i] = req.Name
		results[i].Name = req.Name
		handlers[i] = func(ctx context.Context) error {
			plan, err := b.run(ctx, req, commit)
			results[i].Plan = plan
			return err
		}
	}

	for i, err := range pool.Run(ids, handlers) {
		results[i].Err = err
	}
	return results
}
