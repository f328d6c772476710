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

// Package host is a headless application host with the lifecycle surface a
// desktop framework exposes: a one-shot setup hook, window close requests,
// application exit events and a typed shared-state registry.
//
// The host owns the single foreground event loop. Everything it calls back
// into runs on that loop, one event at a time.
package host
