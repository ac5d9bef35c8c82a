// roomsync - A chat timeline sync engine with moderation-gated sends.
// Copyright (C) 2025 Rowan Veldt
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

// Package moderation models the content-safety scoring service: per-category
// likelihood levels and the classification rule deciding whether an image
// attachment gets flagged before transmission.
package moderation

import (
	"encoding/json"
	"fmt"
)

// Likelihood is an ordered safety likelihood level.
type Likelihood int

const (
	Unknown Likelihood = iota
	VeryUnlikely
	Unlikely
	Possible
	Likely
	VeryLikely
)

var likelihoodNames = map[Likelihood]string{
	Unknown:      "UNKNOWN",
	VeryUnlikely: "VERY_UNLIKELY",
	Unlikely:     "UNLIKELY",
	Possible:     "POSSIBLE",
	Likely:       "LIKELY",
	VeryLikely:   "VERY_LIKELY",
}

var likelihoodValues = map[string]Likelihood{
	"UNKNOWN":       Unknown,
	"VERY_UNLIKELY": VeryUnlikely,
	"UNLIKELY":      Unlikely,
	"POSSIBLE":      Possible,
	"LIKELY":        Likely,
	"VERY_LIKELY":   VeryLikely,
}

func (l Likelihood) String() string {
	if name, ok := likelihoodNames[l]; ok {
		return name
	}
	return fmt.Sprintf("Likelihood(%d)", int(l))
}

func (l Likelihood) MarshalJSON() ([]byte, error) {
	return json.Marshal(l.String())
}

// UnmarshalJSON accepts the service's string level names. Unrecognized
// names decode as UNKNOWN rather than failing the whole response.
func (l *Likelihood) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return err
	}
	*l = likelihoodValues[name]
	return nil
}

// Category is a safety category scored by the moderation service.
type Category string

const (
	CategoryAdult    Category = "adult"
	CategorySpoof    Category = "spoof"
	CategoryMedical  Category = "medical"
	CategoryViolence Category = "violence"
	CategoryRacy     Category = "racy"
)

// Flagged applies the classification rule: an attachment is flagged when any
// category's likelihood reaches LIKELY or VERY_LIKELY.
func Flagged(scores map[Category]Likelihood) bool {
	for _, likelihood := range scores {
		if likelihood >= Likely {
			return true
		}
	}
	return false
}
