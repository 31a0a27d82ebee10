// Package model holds the foundational types shared by every layer:
// property values, entity metadata and the storage operations produced by
// the save pipeline.
//
// Values are a sealed set of scalar types (Null, String, Int, Bool). Floats
// are excluded so that keys compare exactly and snapshots survive a round
// trip through storage without drift.
//
// This package imports nothing else from the module.
package model
