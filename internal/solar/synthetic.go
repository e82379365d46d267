package solar

import (
	"math"
	"time"
)

// NewCarringtonMap builds a full-sphere CRLN-CEA/CRLT-CEA synoptic map of
// nx longitudes by ny sine-latitude rows. field is evaluated at each pixel
// centre with longitude in degrees and sine latitude.
func NewCarringtonMap(nx, ny int, obsTime time.Time, field func(lonDeg, sinLat float64) float64) *Map {
	hdr := NewHeader()
	hdr.Set("CTYPE1", "CRLN-CEA")
	hdr.Set("CTYPE2", "CRLT-CEA")
	hdr.Set("CUNIT1", "deg")
	hdr.Set("CUNIT2", "deg")
	hdr.Set("CRPIX1", float64(nx)/2+0.5)
	hdr.Set("CRPIX2", float64(ny)/2+0.5)
	hdr.Set("CRVAL1", 180.0)
	hdr.Set("CRVAL2", 0.0)
	hdr.Set("CDELT1", 360/float64(nx))
	hdr.Set("CDELT2", 2/float64(ny)*180/math.Pi)
	hdr.Set("PV2_1", 1.0)
	hdr.Set("DATE-OBS", obsTime.UTC().Format("2006-01-02T15:04:05"))
	hdr.Set("BUNIT", "G")

	data := make([]float64, nx*ny)
	for y := 0; y < ny; y++ {
		s := -1 + (float64(y)+0.5)*2/float64(ny)
		for x := 0; x < nx; x++ {
			lon := (float64(x) + 0.5) * 360 / float64(nx)
			data[y*nx+x] = field(lon, s)
		}
	}

	m, err := NewMap(nx, ny, data, hdr)
	if err != nil {
		// The header above is always complete.
		panic(err)
	}
	return m
}

// DipolePair returns a field of two opposite Gaussian spots of peak b0 and
// angular width sigma (degrees), centred on (lon, sinLat) pairs.
func DipolePair(posLon, posSinLat, negLon, negSinLat, b0, sigma float64) func(float64, float64) float64 {
	spot := func(lon, s, lon0, s0 float64) float64 {
		d := angularDistance(lon*deg, math.Asin(s), lon0*deg, math.Asin(s0)) / deg
		return math.Exp(-d * d / (2 * sigma * sigma))
	}
	return func(lon, s float64) float64 {
		return b0 * (spot(lon, s, posLon, posSinLat) - spot(lon, s, negLon, negSinLat))
	}
}

// NewHelioprojectiveMap builds an n by n HPLN-TAN/HPLT-TAN image of the
// disk as seen from Earth-like distance, with a limb-darkened intensity.
// The observer sits at Stonyhurst longitude 0 and latitude b0 degrees and
// its Carrington longitude is carrLon degrees.
func NewHelioprojectiveMap(n int, obsTime time.Time, b0, carrLon float64) *Map {
	const dsun = 1.496e11
	rsunArcsec := math.Asin(RadiusMeters/dsun) / deg * 3600
	cdelt := 2.4 * rsunArcsec / float64(n)

	hdr := NewHeader()
	hdr.Set("CTYPE1", "HPLN-TAN")
	hdr.Set("CTYPE2", "HPLT-TAN")
	hdr.Set("CUNIT1", "arcsec")
	hdr.Set("CUNIT2", "arcsec")
	hdr.Set("CRPIX1", float64(n)/2+0.5)
	hdr.Set("CRPIX2", float64(n)/2+0.5)
	hdr.Set("CRVAL1", 0.0)
	hdr.Set("CRVAL2", 0.0)
	hdr.Set("CDELT1", cdelt)
	hdr.Set("CDELT2", cdelt)
	hdr.Set("DSUN_OBS", dsun)
	hdr.Set("HGLN_OBS", 0.0)
	hdr.Set("HGLT_OBS", b0)
	hdr.Set("CRLN_OBS", carrLon)
	hdr.Set("DATE-OBS", obsTime.UTC().Format("2006-01-02T15:04:05.000"))
	hdr.Set("WAVELNTH", 193)

	data := make([]float64, n*n)
	for y := 0; y < n; y++ {
		for x := 0; x < n; x++ {
			dx := (float64(x) + 0.5 - float64(n)/2) * cdelt
			dy := (float64(y) + 0.5 - float64(n)/2) * cdelt
			rho := math.Hypot(dx, dy) / rsunArcsec
			if rho < 1 {
				data[y*n+x] = 100 * (0.4 + 0.6*math.Sqrt(1-rho*rho))
			} else {
				data[y*n+x] = 5 * math.Exp(-(rho-1)*8)
			}
		}
	}

	m, err := NewMap(n, n, data, hdr)
	if err != nil {
		panic(err)
	}
	return m
}

// angularDistance is the great-circle separation in radians.
func angularDistance(lon1, lat1, lon2, lat2 float64) float64 {
	c := math.Sin(lat1)*math.Sin(lat2) + math.Cos(lat1)*math.Cos(lat2)*math.Cos(lon1-lon2)
	return math.Acos(math.Max(-1, math.Min(1, c)))
}

// AngularDistance returns the great-circle separation of two coordinates in radians.
func AngularDistance(a, b SphericalCoord) float64 {
	return angularDistance(a.Lon, a.Lat, b.Lon, b.Lat)
}
