// Copyright (C) 2025-2026 OpsGate, Inc
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as
// published by the Free Software Foundation, version 3.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program. If not, see <http://www.gnu.org/licenses/>.

package tenantdb

import "fmt"

// ConnectionError reports a failure to open or verify a connection to a
// tenant database. The underlying driver error is preserved for
// errors.Is/errors.As inspection.
type ConnectionError struct {
	Slug string
	Err  error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("tenant %s: connection failed: %v", e.Slug, e.Err)
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}
