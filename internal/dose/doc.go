// Package dose provides the value types shared by every layer of the dose
// store: reservoir readings, pump-event records, dose entries, projected
// insulin and glucose values, and daily schedules.
//
// This package contains type definitions and identity helpers only. All
// other internal packages import dose; dose imports nothing internal.
//
// Key design constraints:
//   - Values are plain structs; nothing here holds a handle to storage
//   - Pump-event identity is content-addressed over (date, raw payload)
//   - All JSON tags use snake_case
//   - Timestamps are persisted at millisecond precision
package dose
