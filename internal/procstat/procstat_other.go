// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

//go:build !linux

package procstat

import "context"

// Sampler is unavailable without procfs.
type Sampler struct{}

// NewSampler returns ErrUnsupported.
func NewSampler() (*Sampler, error) {
	return nil, ErrUnsupported
}

// Sample returns ErrUnsupported.
func (s *Sampler) Sample(context.Context, int) (*Sample, error) {
	return nil, ErrUnsupported
}
