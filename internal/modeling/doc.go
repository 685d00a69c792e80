// Parkwaits - Theme Park Wait Time Pipeline and Modeling Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/parkwaits

// Package modeling implements the per-entity modeling workflow: feature
// construction over the canonical rows, persistent categorical encoding, the
// regressor trainer abstraction with its mean-model fallback, per-entity and
// batch training orchestration, and the posted-value aggregates used to
// impute POSTED for future dates.
//
// The gradient boosting library itself is an external collaborator behind
// the RegressorTrainer interface. Entities below the observation floor, or
// runs without a registered trainer, record a mean model instead.
package modeling
