package raster

import "fmt"

// GeoTIFF GeoKey IDs.
const (
	gkModelTypeGeoKey       = 1024
	gkRasterTypeGeoKey      = 1025
	gkGeographicTypeGeoKey  = 2048
	gkProjectedCSTypeGeoKey = 3072
)

// GeoTransform maps pixel (col, row) to world coordinates, in GDAL order:
//
//	X = gt[0] + col*gt[1] + row*gt[2]
//	Y = gt[3] + col*gt[4] + row*gt[5]
type GeoTransform [6]float64

// PlaceholderTransform is the identity pixel-space transform assigned to
// rasters without usable georeferencing.
var PlaceholderTransform = GeoTransform{0, 1, 0, 0, 0, 1}

// Flipped reports whether the vertical coefficient is negative. Products
// handled here treat that as stored upside-down relative to world-up.
func (gt GeoTransform) Flipped() bool {
	return gt[5] < 0
}

// Rotated reports whether the transform has non-zero rotation/shear terms.
func (gt GeoTransform) Rotated() bool {
	return gt[2] != 0 || gt[4] != 0
}

// Apply maps a pixel coordinate to world space.
func (gt GeoTransform) Apply(col, row float64) (x, y float64) {
	return gt[0] + col*gt[1] + row*gt[2], gt[3] + col*gt[4] + row*gt[5]
}

// Invert maps a world coordinate back to pixel space. It only supports
// transforms without rotation.
func (gt GeoTransform) Invert(x, y float64) (col, row float64, err error) {
	if gt.Rotated() {
		return 0, 0, fmt.Errorf("cannot invert rotated transform %v", gt)
	}
	if gt[1] == 0 || gt[5] == 0 {
		return 0, 0, fmt.Errorf("degenerate transform %v", gt)
	}
	return (x - gt[0]) / gt[1], (y - gt[3]) / gt[5], nil
}

// GeoKeys is the raw GeoKey directory of a GeoTIFF. It is carried verbatim
// so that custom (non-EPSG) planetary projections survive a rewrite.
type GeoKeys struct {
	Directory []uint16
	Doubles   []float64
	ASCII     string
}

// Empty reports whether no GeoKey directory is present.
func (k *GeoKeys) Empty() bool {
	return k == nil || len(k.Directory) == 0
}

// GeoInfo holds parsed GeoTIFF metadata.
type GeoInfo struct {
	Transform     GeoTransform
	Georeferenced bool
	EPSG          int // 0 when the CRS is user-defined or unknown
	Keys          GeoKeys
}

// parseGeoInfo extracts geographic metadata from an IFD. Precedence follows
// GDAL: ModelTransformation, then ModelTiepoint + ModelPixelScale.
func parseGeoInfo(ifd *IFD) GeoInfo {
	info := GeoInfo{
		Transform: PlaceholderTransform,
		EPSG:      parseEPSG(ifd.GeoKeys),
		Keys: GeoKeys{
			Directory: ifd.GeoKeys,
			Doubles:   ifd.GeoDoubleParams,
			ASCII:     ifd.GeoASCIIParams,
		},
	}

	if m := ifd.ModelTransformation; len(m) >= 16 {
		info.Transform = GeoTransform{m[3], m[0], m[1], m[7], m[4], m[5]}
		info.Georeferenced = true
		return info
	}

	// ModelTiepoint: [I, J, K, X, Y, Z] maps pixel (I,J) to (X,Y).
	// ModelPixelScale: [ScaleX, ScaleY, ScaleZ]; ScaleY grows southward.
	if len(ifd.ModelTiepoint) >= 6 && len(ifd.ModelPixelScale) >= 2 {
		sx, sy := ifd.ModelPixelScale[0], ifd.ModelPixelScale[1]
		tp := ifd.ModelTiepoint
		info.Transform = GeoTransform{
			tp[3] - tp[0]*sx, sx, 0,
			tp[4] + tp[1]*sy, 0, -sy,
		}
		info.Georeferenced = true
	}

	return info
}

// parseEPSG extracts the EPSG code from GeoKey directory entries.
func parseEPSG(geoKeys []uint16) int {
	if len(geoKeys) < 4 {
		return 0
	}

	// GeoKey directory header: [KeyDirectoryVersion, KeyRevision, MinorRevision, NumberOfKeys]
	numKeys := int(geoKeys[3])

	for i := 0; i < numKeys; i++ {
		base := 4 + i*4
		if base+3 >= len(geoKeys) {
			break
		}
		keyID := geoKeys[base]
		location := geoKeys[base+1]
		valueOffset := geoKeys[base+3]

		// Only inline SHORT values carry a code; 32767 means user-defined.
		if location != 0 || valueOffset == 0 || valueOffset == 32767 {
			continue
		}
		switch keyID {
		case gkProjectedCSTypeGeoKey, gkGeographicTypeGeoKey:
			return int(valueOffset)
		}
	}

	return 0
}
