/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package mixer

import "math"

func floatBits(v float64) uint64  { return math.Float64bits(v) }
func bitsFloat(b uint64) float64  { return math.Float64frombits(b) }
