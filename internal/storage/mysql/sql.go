package mysql

// -----------------------------------------------------------------------------
// CHANNEL CONFIG
// -----------------------------------------------------------------------------

const configColumns = `
  id, property_id, external_hotel_code, external_pms_identifier, api_base_url,
  is_active, is_sandbox, last_sync_at, created_at, updated_at`

const lockConfigByPropertySQL = `SELECT id FROM channel_configs WHERE property_id = ? FOR UPDATE`

const insertConfigSQL = `
INSERT INTO channel_configs
  (property_id, external_hotel_code, external_pms_identifier, api_base_url, is_active, is_sandbox)
VALUES
  (?, ?, ?, ?, COALESCE(?, 1), ?)
`

// is_active keeps its stored value when the caller sends NULL.
const updateConfigSQL = `
UPDATE channel_configs SET
  external_hotel_code     = ?,
  external_pms_identifier = ?,
  api_base_url            = ?,
  is_active               = COALESCE(?, is_active),
  is_sandbox              = ?
WHERE id = ?
`

const touchLastSyncSQL = `UPDATE channel_configs SET last_sync_at = ? WHERE id = ?`

const getConfigByPropertySQL = `SELECT` + configColumns + ` FROM channel_configs WHERE property_id = ?`

const getConfigByIDSQL = `SELECT` + configColumns + ` FROM channel_configs WHERE id = ?`

const getConfigByHotelCodeSQL = `SELECT` + configColumns + ` FROM channel_configs WHERE external_hotel_code = ?`

const listActiveConfigsSQL = `SELECT` + configColumns + ` FROM channel_configs WHERE is_active = 1 ORDER BY id`

// -----------------------------------------------------------------------------
// ROOM / RATE PLAN MAPPINGS
// -----------------------------------------------------------------------------

const lockConfigSQL = `SELECT id FROM channel_configs WHERE id = ? FOR UPDATE`

const lockRoomMappingsSQL = `
SELECT id, internal_room_type
FROM room_mappings
WHERE config_id = ?
FOR UPDATE
`

const deleteRoomMappingSQL = `DELETE FROM room_mappings WHERE id = ?`

// Parks every external code on a unique throwaway value so the replace can
// swap codes between rows without tripping uq_room_mappings_external.
const parkRoomCodesSQL = `
UPDATE room_mappings
SET external_room_code = CONCAT('~', id)
WHERE config_id = ?
`

const updateRoomMappingSQL = `
UPDATE room_mappings SET external_room_code = ?, position = ? WHERE id = ?
`

const insertRoomMappingSQL = `
INSERT INTO room_mappings (config_id, internal_room_type, external_room_code, position)
VALUES (?, ?, ?, ?)
`

const getRoomMappingSQL = `
SELECT id, config_id, internal_room_type, external_room_code, position
FROM room_mappings
WHERE id = ?
`

const lockRoomMappingSQL = `SELECT id FROM room_mappings WHERE id = ? FOR UPDATE`

const deleteRatePlansSQL = `DELETE FROM rate_plan_mappings WHERE room_mapping_id = ?`

const insertRatePlanSQL = `
INSERT INTO rate_plan_mappings (room_mapping_id, name, code, base_rate, occupancy, position)
VALUES (?, ?, ?, ?, ?, ?)
`

const listRoomMappingsSQL = `
SELECT id, config_id, internal_room_type, external_room_code, position
FROM room_mappings
WHERE config_id = ?
ORDER BY position, id
`

const listRatePlansByConfigSQL = `
SELECT rp.id, rp.room_mapping_id, rp.name, rp.code, rp.base_rate, rp.occupancy, rp.position
FROM rate_plan_mappings rp
JOIN room_mappings rm ON rm.id = rp.room_mapping_id
WHERE rm.config_id = ?
ORDER BY rp.room_mapping_id, rp.position, rp.id
`

const listRatePlansByRoomSQL = `
SELECT id, room_mapping_id, name, code, base_rate, occupancy, position
FROM rate_plan_mappings
WHERE room_mapping_id = ?
ORDER BY position, id
`

// -----------------------------------------------------------------------------
// SYNC LEDGER
// -----------------------------------------------------------------------------

const insertSyncLogSQL = `
INSERT INTO sync_logs
  (property_id, config_id, sync_type, direction, status, external_ref,
   request_payload, response_payload, error_message, needs_review, created_at)
VALUES
  (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
`

// Filters are appended by the repo; keep the trailing WHERE clause open.
const querySyncLogsPrefix = `
SELECT id, property_id, config_id, sync_type, direction, status, external_ref,
       request_payload, response_payload, error_message, needs_review, created_at
FROM sync_logs
WHERE property_id = ?`

const hasSyncStatusSQL = `
SELECT EXISTS (
  SELECT 1 FROM sync_logs
  WHERE config_id = ? AND sync_type = ? AND external_ref = ? AND status = ?
)
`

// -----------------------------------------------------------------------------
// BOOKINGS / AVAILABILITY
// -----------------------------------------------------------------------------

const bookingColumns = `
  id, property_id, source, external_ref, room_type, external_room_code,
  guest_name, guest_email, guest_phone, adults, check_in, check_out,
  total_amount, status, needs_review, review_reason`

const findBookingSQL = `SELECT` + bookingColumns + `
FROM bookings
WHERE property_id = ? AND source = ? AND external_ref = ?
`

const insertBookingSQL = `
INSERT INTO bookings
  (property_id, source, external_ref, room_type, external_room_code,
   guest_name, guest_email, guest_phone, adults, check_in, check_out,
   total_amount, status, needs_review, review_reason)
VALUES
  (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
`

const updateBookingSQL = `
UPDATE bookings SET
  room_type          = ?,
  external_room_code = ?,
  guest_name         = ?,
  guest_email        = ?,
  guest_phone        = ?,
  adults             = ?,
  check_in           = ?,
  check_out          = ?,
  total_amount       = ?,
  status             = ?,
  needs_review       = ?,
  review_reason      = ?
WHERE id = ?
`

const cancelBookingSQL = `UPDATE bookings SET status = 'cancelled' WHERE id = ?`

const flagBookingSQL = `UPDATE bookings SET needs_review = 1, review_reason = ? WHERE id = ?`

// A booking occupies the nights in [check_in, check_out).
const availableRoomsSQL = `
SELECT GREATEST(rt.total_rooms - (
  SELECT COUNT(*) FROM bookings b
  WHERE b.property_id = rt.property_id
    AND b.room_type   = rt.name
    AND b.status     <> 'cancelled'
    AND b.check_in   <= ?
    AND b.check_out   > ?
), 0)
FROM room_types rt
WHERE rt.property_id = ? AND rt.name = ?
`
