// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package core

// Properties is a string-keyed property map for user-supplied analytics
// values. Values must be JSON-serializable.
type Properties map[string]any

// Clone returns a shallow copy of the property map.
func (p Properties) Clone() Properties {
	if p == nil {
		return Properties{}
	}
	cp := make(Properties, len(p))
	for k, v := range p {
		cp[k] = v
	}
	return cp
}

// Merge copies all entries from other into p, overwriting existing keys.
func (p Properties) Merge(other Properties) {
	for k, v := range other {
		p[k] = v
	}
}

// MergeMissing copies entries from other into p only for keys absent from p.
func (p Properties) MergeMissing(other Properties) {
	for k, v := range other {
		if _, ok := p[k]; !ok {
			p[k] = v
		}
	}
}
