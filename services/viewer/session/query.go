// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package session

import (
	"fmt"
	"net/url"
	"strconv"

	"github.com/AleutianAI/scriptlens/services/viewer/render"
)

// Query keys.
const (
	QuerySource = "src"
	QueryLine   = "line"
	QueryMode   = "mode"
)

// QueryState is the addressable view state: reloading a URL carrying it
// restores the same view.
type QueryState struct {
	Source string
	Line   int
	Mode   render.Mode
}

// ParseQuery reads a QueryState. A missing mode means focused.
func ParseQuery(v url.Values) (QueryState, error) {
	qs := QueryState{Source: v.Get(QuerySource)}

	if raw := v.Get(QueryLine); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			return QueryState{}, fmt.Errorf("invalid %s %q", QueryLine, raw)
		}
		qs.Line = n
	}

	mode, err := render.ParseMode(v.Get(QueryMode))
	if err != nil {
		return QueryState{}, err
	}
	qs.Mode = mode
	return qs, nil
}

// Values encodes q. Zero fields are omitted.
func (q QueryState) Values() url.Values {
	v := url.Values{}
	if q.Source != "" {
		v.Set(QuerySource, q.Source)
	}
	if q.Line > 0 {
		v.Set(QueryLine, strconv.Itoa(q.Line))
	}
	v.Set(QueryMode, q.Mode.String())
	return v
}

// Encode returns q as a URL query string.
func (q QueryState) Encode() string {
	return q.Values().Encode()
}
