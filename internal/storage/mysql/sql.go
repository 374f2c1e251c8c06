package mysql

const insertPlaceSQL = `
INSERT INTO places
  (name, slug, address, city, state, country, postal_code, lat, lng)
VALUES
  (?, ?, ?, ?, ?, ?, ?, ?, ?)
`

const updatePlaceSQL = `
UPDATE places SET
  name        = ?,
  address     = ?,
  city        = ?,
  state       = ?,
  country     = ?,
  postal_code = ?,
  lat         = ?,
  lng         = ?,
  updated_at  = CURRENT_TIMESTAMP
WHERE id = ?
`

const placeColumns = `
  id, name, slug, address, city, state, country, postal_code,
  lat, lng, created_at, updated_at
`

const getPlaceSQL = `SELECT` + placeColumns + `FROM places WHERE id = ?`

const getPlaceBySlugSQL = `SELECT` + placeColumns + `FROM places WHERE slug = ?`

// Edge-inclusive on all four sides; BETWEEN is inclusive in MySQL.
// Walks idx_places_lat_lng.
const scanBBoxSQL = `SELECT` + placeColumns + `
FROM places
WHERE lat BETWEEN ? AND ? AND lng BETWEEN ? AND ?
`

const countPlaceSourcesSQL = `SELECT COUNT(*) FROM sources WHERE place_id = ?`

const deletePlaceSourcesSQL = `DELETE FROM sources WHERE place_id = ?`

const deletePlaceSQL = `DELETE FROM places WHERE id = ?`

// created_at value is COALESCE(?, CURRENT_TIMESTAMP) to allow "unknown" timestamps.
const insertSourceSQL = `
INSERT INTO sources
  (place_id, title, thumbnail_url, url, platform, status, created_at)
VALUES
  (?, ?, ?, ?, ?, ?, COALESCE(?, CURRENT_TIMESTAMP))
`

const sourceColumns = `
  id, place_id, title, thumbnail_url, url, platform, status, created_at
`

const getSourceSQL = `SELECT` + sourceColumns + `FROM sources WHERE id = ?`

// Most recent first; id breaks created_at ties so the order is total and
// reproducible. Walks idx_sources_place_created.
const listSourcesByPlaceSQL = `SELECT` + sourceColumns + `
FROM sources
WHERE place_id = ?
ORDER BY created_at DESC, id DESC
`

const lockSourceSQL = `SELECT place_id, status FROM sources WHERE id = ? FOR UPDATE`

const updateSourceStatusSQL = `UPDATE sources SET status = ? WHERE id = ?`

const deleteSourceSQL = `DELETE FROM sources WHERE id = ?`

const listPlaceSourceStatusesSQL = `SELECT status FROM sources WHERE place_id = ? FOR UPDATE`
