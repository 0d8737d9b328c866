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

package provision

import (
	"errors"
	"fmt"
)

// Stage names the provisioning step that was running when a failure
// occurred. The master row's provisioning_state records the last stage
// that completed, so Stage and state together locate a failure exactly.
type Stage string

const (
	StageCreateRecord   Stage = "create_record"
	StageCreateDatabase Stage = "create_database"
	StageMigrate        Stage = "migrate"
	StageSeed           Stage = "seed"
	StageActivate       Stage = "activate"
)

// ErrInvalidDraft is returned when a tenant draft fails validation.
var ErrInvalidDraft = errors.New("invalid tenant draft")

// ErrAlreadyExists is returned when the draft's slug is taken.
var ErrAlreadyExists = errors.New("tenant already exists")

// ProvisioningError reports a failed provisioning run. The master row is
// kept with provisioning_error set, so Retry can resume from the last
// completed stage.
type ProvisioningError struct {
	Slug  string
	Stage Stage
	Err   error
}

func (e *ProvisioningError) Error() string {
	return fmt.Sprintf("provisioning tenant %s failed at stage %s: %v", e.Slug, e.Stage, e.Err)
}

func (e *ProvisioningError) Unwrap() error {
	return e.Err
}
