// Copyright 2025 La Crypta

// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at

//     https://www.apache.org/licenses/LICENSE-2.0

// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package pos

import "errors"

var (
	// ErrNotOpen indicates an operation that needs an open order on a
	// checkout that has none.
	ErrNotOpen = errors.New("checkout has no open order")

	// ErrAlreadyOpen indicates a second order was opened on a checkout
	// that already tracks one. A checkout settles exactly one order.
	ErrAlreadyOpen = errors.New("checkout already tracks an order")

	// ErrOrderNotFound indicates the network holds no record for the
	// requested order id.
	ErrOrderNotFound = errors.New("order not found on the network")
)
