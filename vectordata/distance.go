//
// Tencent is pleased to support the open source community by making trpc-kernel-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-kernel-go is licensed under the Apache License Version 2.0.
//
//

package vectordata

import (
	"fmt"
	"math"
)

// DistanceFunction scores a record vector against a query vector.
type DistanceFunction string

// Distance functions.
const (
	CosineSimilarity         DistanceFunction = "cosine_similarity"
	CosineDistance           DistanceFunction = "cosine_distance"
	DotProduct               DistanceFunction = "dot_prod"
	EuclideanDistance        DistanceFunction = "euclidean_distance"
	EuclideanSquaredDistance DistanceFunction = "euclidean_squared_distance"
	Manhattan                DistanceFunction = "manhattan"
	Hamming                  DistanceFunction = "hamming"
	DefaultDistance          DistanceFunction = "default"
)

// Resolve maps the empty and default functions to cosine distance.
func (d DistanceFunction) Resolve() DistanceFunction {
	if d == "" || d == DefaultDistance {
		return CosineDistance
	}
	return d
}

// HigherIsBetter reports whether larger scores mean closer vectors.
func (d DistanceFunction) HigherIsBetter() bool {
	switch d.Resolve() {
	case CosineSimilarity, DotProduct:
		return true
	default:
		return false
	}
}

// IsValid reports whether d is a known function.
func (d DistanceFunction) IsValid() bool {
	switch d.Resolve() {
	case CosineSimilarity, CosineDistance, DotProduct, EuclideanDistance,
		EuclideanSquaredDistance, Manhattan, Hamming:
		return true
	default:
		return false
	}
}

// Distance computes d between a and b.
func (d DistanceFunction) Distance(a, b []float32) (float64, error) {
	if len(a) != len(b) {
		return 0, fmt.Errorf("%w: vector dimensions differ: %d != %d", ErrSearchExecution, len(a), len(b))
	}
	switch d.Resolve() {
	case CosineSimilarity:
		return cosineSimilarity(a, b), nil
	case CosineDistance:
		return 1 - cosineSimilarity(a, b), nil
	case DotProduct:
		var s float64
		for i := range a {
			s += float64(a[i]) * float64(b[i])
		}
		return s, nil
	case EuclideanDistance:
		return math.Sqrt(squaredDistance(a, b)), nil
	case EuclideanSquaredDistance:
		return squaredDistance(a, b), nil
	case Manhattan:
		var s float64
		for i := range a {
			s += math.Abs(float64(a[i]) - float64(b[i]))
		}
		return s, nil
	case Hamming:
		var n float64
		for i := range a {
			if a[i] != b[i] {
				n++
			}
		}
		return n, nil
	default:
		return 0, fmt.Errorf("%w: distance function %s", ErrOperationNotSupported, d)
	}
}

// cosineSimilarity is 0 when either vector is zero.
func cosineSimilarity(a, b []float32) float64 {
	var dot, na, nb float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

func squaredDistance(a, b []float32) float64 {
	var s float64
	for i := range a {
		d := float64(a[i]) - float64(b[i])
		s += d * d
	}
	return s
}
