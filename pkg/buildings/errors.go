package buildings

import "errors"

var (
	// ErrUnitOccupied is returned by Assign when the unit already has a current tenancy.
	ErrUnitOccupied = errors.New("unit already has a current tenant")

	// ErrNoCurrentTenancy is returned by Transfer and Vacate on a vacant unit.
	ErrNoCurrentTenancy = errors.New("unit has no current tenant")

	// ErrUnitNotFound is returned when the addressed unit does not exist.
	ErrUnitNotFound = errors.New("unit not found")
)
