package guardrail

import (
	"fmt"

	"github.com/laylaymen/vivo-opscore/internal/model"
)

const maxDiffLines = 20

// key identifies a child by (symbol, side, type) per the spec's diff
// format; this is the identity the before/after comparison is keyed on,
// not qty or flags (which are exactly what the diff reports changing).
func key(c model.ActionChild) string {
	return fmt.Sprintf("%s-%s-%s", c.Symbol, c.Side, c.Type)
}

func keyedClone(children []model.ActionChild) map[string]model.ActionChild {
	m := make(map[string]model.ActionChild, len(children))
	for _, c := range children {
		m[key(c)] = c
	}
	return m
}

// diff reports DROP/ADD/QTY/POST_ONLY lines between the before and
// after child sets, capped at maxDiffLines.
func diff(before map[string]model.ActionChild, after []model.ActionChild) []Change {
	var changes []Change
	seen := make(map[string]bool, len(after))

	for _, a := range after {
		k := key(a)
		seen[k] = true
		b, existed := before[k]
		if !existed {
			changes = append(changes, Change(fmt.Sprintf("ADD %s qty=%v", k, a.Qty)))
			continue
		}
		if b.Qty != a.Qty {
			changes = append(changes, Change(fmt.Sprintf("QTY %s: %v->%v", k, b.Qty, a.Qty)))
		}
		if b.PostOnly != a.PostOnly {
			changes = append(changes, Change(fmt.Sprintf("POST_ONLY %s: %v->%v", k, b.PostOnly, a.PostOnly)))
		}
		if b.ReduceOnly != a.ReduceOnly {
			changes = append(changes, Change(fmt.Sprintf("REDUCE_ONLY %s: %v->%v", k, b.ReduceOnly, a.ReduceOnly)))
		}
		if b.Type != a.Type {
			changes = append(changes, Change(fmt.Sprintf("TYPE %s: %v->%v", k, b.Type, a.Type)))
		}
	}
	for k := range before {
		if !seen[k] {
			changes = append(changes, Change(fmt.Sprintf("DROP %s", k)))
		}
	}

	if len(changes) > maxDiffLines {
		changes = changes[:maxDiffLines]
	}
	return changes
}
