package ledger

import "sort"

// LimitUsage is current exposure against one limit.
type LimitUsage struct {
	Key     string  `json:"key"`
	Current float64 `json:"current"`
	Limit   float64 `json:"limit"`
	Pct     float64 `json:"pct"`
}

// Summary describes exposure against every diversification limit.
type Summary struct {
	TotalExposure  float64      `json:"total_exposure"`
	MaxExposure    float64      `json:"max_exposure"`
	ExposurePct    float64      `json:"exposure_pct"`
	Reserved       float64      `json:"reserved"`
	UniqueClusters int          `json:"unique_clusters"`
	Clusters       []LimitUsage `json:"clusters"`
	Dates          []LimitUsage `json:"dates"`
}

// Summary reports exposure vs limits for the settled portfolio.
func (l *Ledger) Summary(bankroll float64) Summary {
	l.mu.Lock()
	defer l.mu.Unlock()

	s := l.state
	out := Summary{
		TotalExposure:  s.TotalExposure,
		MaxExposure:    bankroll * l.cfg.MaxTotalPct,
		UniqueClusters: len(s.Clusters()),
	}
	for _, r := range l.reserved {
		out.Reserved += r.size
	}
	if out.MaxExposure > 0 {
		out.ExposurePct = s.TotalExposure / out.MaxExposure
	}
	out.Clusters = usage(s.ClusterExposure, s.TotalExposure*l.cfg.MaxClusterPct)
	out.Dates = usage(s.DateExposure, s.TotalExposure*l.cfg.MaxSameDayPct)
	return out
}

func usage(exposure map[string]float64, limit float64) []LimitUsage {
	out := make([]LimitUsage, 0, len(exposure))
	for k, v := range exposure {
		u := LimitUsage{Key: k, Current: v, Limit: limit}
		if limit > 0 {
			u.Pct = v / limit
		}
		out = append(out, u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}
