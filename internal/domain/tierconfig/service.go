package tierconfig

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"

	"github.com/hospital/outpatient/internal/platform/apperr"
	"github.com/hospital/outpatient/internal/platform/cache"
	"github.com/hospital/outpatient/internal/platform/db"
	"github.com/hospital/outpatient/internal/platform/telemetry"
)

var jsonNull = []byte("null")

// Resolver answers tiered configuration lookups. Each (key, scope, id) layer
// is read through the cache; writes through Put and Deactivate drop the cached
// layer once the row is stored, so readers never see a value older than the
// last committed update.
type Resolver struct {
	repo   Repository
	dir    Directory
	cache  cache.Cache
	ttl    time.Duration
	logger zerolog.Logger
}

func NewResolver(repo Repository, dir Directory, c cache.Cache, ttl time.Duration, logger zerolog.Logger) *Resolver {
	if c == nil {
		c = cache.Nop{}
	}
	return &Resolver{repo: repo, dir: dir, cache: c, ttl: ttl, logger: logger}
}

func cacheKey(key string, scope Scope, scopeID *int64) string {
	id := "-"
	if scopeID != nil {
		id = strconv.FormatInt(*scopeID, 10)
	}
	return "tierconfig:" + key + ":" + string(scope) + ":" + id
}

// tenantKey namespaces a cache key with the hospital bound to ctx, so
// hospitals sharing one cache server never read each other's layers.
func tenantKey(ctx context.Context, k string) string {
	if tenant := db.TenantFromContext(ctx); tenant != "" {
		return tenant + ":" + k
	}
	return k
}

// layer returns the raw JSON object stored for one scope, or nil when the
// scope has no active row. Missing rows are cached too.
func (r *Resolver) layer(ctx context.Context, key string, scope Scope, scopeID *int64) (json.RawMessage, error) {
	ck := tenantKey(ctx, cacheKey(key, scope, scopeID))
	if val, ok, err := r.cache.Get(ctx, ck); err != nil {
		r.logger.Warn().Err(err).Str("key", ck).Msg("tier config cache read failed")
	} else if ok {
		if bytes.Equal(val, jsonNull) {
			return nil, nil
		}
		return val, nil
	}

	val, ok, err := r.repo.Get(ctx, scope, scopeID, key)
	if err != nil {
		return nil, apperr.ConfigurationError.Wrap(err)
	}
	stored := jsonNull
	if ok {
		stored = val
	} else {
		val = nil
	}
	if err := r.cache.Set(ctx, ck, stored, r.ttl); err != nil {
		r.logger.Warn().Err(err).Str("key", ck).Msg("tier config cache write failed")
	}
	return val, nil
}

// layers returns the configured objects for key in resolution order
// DOCTOR, CLINIC, MINOR_DEPT, GLOBAL, skipping tiers without a row.
func (r *Resolver) layers(ctx context.Context, t Target, key string) ([]json.RawMessage, error) {
	type tier struct {
		scope Scope
		id    *int64
	}
	var chain []tier
	if t.DoctorID > 0 {
		id := t.DoctorID
		chain = append(chain, tier{ScopeDoctor, &id})
	}
	if t.ClinicID > 0 {
		id := t.ClinicID
		chain = append(chain, tier{ScopeClinic, &id})
	}
	minor := t.MinorDeptID
	if minor == nil && t.ClinicID > 0 && r.dir != nil {
		m, err := r.dir.MinorDeptOfClinic(ctx, t.ClinicID)
		if err != nil {
			return nil, apperr.ConfigurationError.Wrap(err)
		}
		minor = m
	}
	if minor != nil {
		chain = append(chain, tier{ScopeMinorDept, minor})
	}
	chain = append(chain, tier{ScopeGlobal, nil})

	out := make([]json.RawMessage, 0, len(chain))
	for _, tr := range chain {
		val, err := r.layer(ctx, key, tr.scope, tr.id)
		if err != nil {
			return nil, err
		}
		if val != nil {
			out = append(out, val)
		}
	}
	return out, nil
}

// ResolvePrice returns the registration fee for slotType. A positive explicit
// price always wins; otherwise the first tier with a non-null field for the
// slot type supplies it, and DefaultPrices covers the rest.
func (r *Resolver) ResolvePrice(ctx context.Context, t Target, slotType SlotType, explicit decimal.Decimal) (price decimal.Decimal, err error) {
	if explicit.IsPositive() {
		return explicit, nil
	}
	if !slotType.Valid() {
		return decimal.Zero, apperr.Validation("unknown slot type %q", slotType)
	}

	ctx, span := telemetry.Start(ctx, "tierconfig", "ResolvePrice",
		attribute.Int64("doctor_id", t.DoctorID), attribute.Int64("clinic_id", t.ClinicID))
	defer func() { telemetry.End(span, err) }()

	layers, err := r.layers(ctx, t, KeyPrice)
	if err != nil {
		return decimal.Zero, err
	}
	for _, raw := range layers {
		var fields map[string]json.RawMessage
		if err := json.Unmarshal(raw, &fields); err != nil {
			return decimal.Zero, apperr.ConfigurationError.Wrap(fmt.Errorf("decode %s: %w", KeyPrice, err))
		}
		v, ok := fields[string(slotType)]
		if !ok || bytes.Equal(bytes.TrimSpace(v), jsonNull) {
			continue
		}
		var d decimal.Decimal
		if err := json.Unmarshal(v, &d); err != nil {
			return decimal.Zero, apperr.ConfigurationError.Wrap(fmt.Errorf("decode %s.%s: %w", KeyPrice, slotType, err))
		}
		return d, nil
	}
	return DefaultPrices[slotType], nil
}

// merge applies layers onto dst from the lowest-priority tier up. encoding/json
// leaves a field untouched when the layer holds null for it or omits it, which
// gives per-field fallthrough.
func merge(dst interface{}, key string, layers []json.RawMessage) error {
	for i := len(layers) - 1; i >= 0; i-- {
		if err := json.Unmarshal(layers[i], dst); err != nil {
			return apperr.ConfigurationError.Wrap(fmt.Errorf("decode %s: %w", key, err))
		}
	}
	return nil
}

func (r *Resolver) RegistrationPolicy(ctx context.Context, t Target) (RegistrationPolicy, error) {
	p := DefaultRegistrationPolicy()
	layers, err := r.layers(ctx, t, KeyRegistration)
	if err != nil {
		return p, err
	}
	if err := merge(&p, KeyRegistration, layers); err != nil {
		return DefaultRegistrationPolicy(), err
	}
	if err := p.validate(); err != nil {
		return DefaultRegistrationPolicy(), apperr.ConfigurationError.Wrap(err)
	}
	return p, nil
}

func (r *Resolver) SchedulePolicy(ctx context.Context, t Target) (SchedulePolicy, error) {
	p := DefaultSchedulePolicy()
	layers, err := r.layers(ctx, t, KeySchedule)
	if err != nil {
		return p, err
	}
	if err := merge(&p, KeySchedule, layers); err != nil {
		return DefaultSchedulePolicy(), err
	}
	if err := p.validate(); err != nil {
		return DefaultSchedulePolicy(), apperr.ConfigurationError.Wrap(err)
	}
	return p, nil
}

func validateScope(scope Scope, scopeID *int64) error {
	if !scope.Valid() {
		return apperr.Validation("unknown scope %q", scope)
	}
	if scope == ScopeGlobal && scopeID != nil {
		return apperr.Validation("GLOBAL configuration takes no scope_id")
	}
	if scope != ScopeGlobal && (scopeID == nil || *scopeID <= 0) {
		return apperr.Validation("scope_id is required for %s configuration", scope)
	}
	return nil
}

func validateValue(key string, value json.RawMessage) error {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(value, &obj); err != nil || obj == nil {
		return apperr.Validation("config_value must be a JSON object")
	}
	switch key {
	case KeyPrice:
		for k, v := range obj {
			if !SlotType(k).Valid() {
				return apperr.Validation("unknown slot type %q in %s", k, key)
			}
			if bytes.Equal(bytes.TrimSpace(v), jsonNull) {
				continue
			}
			var d decimal.Decimal
			if err := json.Unmarshal(v, &d); err != nil || d.IsNegative() {
				return apperr.Validation("%s.%s must be a non-negative number or null", key, k)
			}
		}
	case KeyRegistration:
		p := DefaultRegistrationPolicy()
		if err := json.Unmarshal(value, &p); err != nil {
			return apperr.Validation("invalid %s value: %v", key, err)
		}
		if err := p.validate(); err != nil {
			return apperr.Validation("%v", err)
		}
	case KeySchedule:
		p := DefaultSchedulePolicy()
		if err := json.Unmarshal(value, &p); err != nil {
			return apperr.Validation("invalid %s value: %v", key, err)
		}
		if err := p.validate(); err != nil {
			return apperr.Validation("%v", err)
		}
	default:
		return apperr.Validation("unknown configuration key %q", key)
	}
	return nil
}

// Put stores a configuration layer. Its cached copy is dropped once the
// write is visible to other readers: at commit when ctx carries a
// transaction, otherwise right after the row is stored.
func (r *Resolver) Put(ctx context.Context, e *Entry) error {
	if err := validateScope(e.Scope, e.ScopeID); err != nil {
		return err
	}
	if err := validateValue(e.Key, e.Value); err != nil {
		return err
	}
	if err := r.repo.Put(ctx, e); err != nil {
		return fmt.Errorf("store tier config: %w", err)
	}
	key, scope, scopeID := e.Key, e.Scope, e.ScopeID
	return db.AfterCommit(ctx, func(ctx context.Context) error {
		return r.invalidate(ctx, key, scope, scopeID)
	})
}

// Deactivate removes a layer so lookups fall through to the next tier.
func (r *Resolver) Deactivate(ctx context.Context, scope Scope, scopeID *int64, key string) error {
	if err := validateScope(scope, scopeID); err != nil {
		return err
	}
	found, err := r.repo.Deactivate(ctx, scope, scopeID, key)
	if err != nil {
		return fmt.Errorf("deactivate tier config: %w", err)
	}
	err = db.AfterCommit(ctx, func(ctx context.Context) error {
		return r.invalidate(ctx, key, scope, scopeID)
	})
	if err != nil {
		return err
	}
	if !found {
		return apperr.NotFoundf("no active %s configuration for %s", key, scope)
	}
	return nil
}

func (r *Resolver) List(ctx context.Context, key string) ([]*Entry, error) {
	return r.repo.List(ctx, key)
}

// invalidate drops the cached layer. On failure the row is already stored,
// so the error is reported to the writer to retry.
func (r *Resolver) invalidate(ctx context.Context, key string, scope Scope, scopeID *int64) error {
	ck := tenantKey(ctx, cacheKey(key, scope, scopeID))
	if err := r.cache.Delete(ctx, ck); err != nil {
		r.logger.Error().Err(err).Str("key", ck).Msg("tier config cache invalidation failed")
		return apperr.ConfigurationError.Wrap(err)
	}
	return nil
}
