package sources

const (
	// BoundaryGeoJSONURL is the Natural Earth 1:50m admin-0 scale-rank layer the
	// feed server publishes as its map boundary.
	BoundaryGeoJSONURL = "https://raw.githubusercontent.com/nvkelso/natural-earth-vector/master/geojson/ne_50m_admin_0_scale_rank.geojson"
)
