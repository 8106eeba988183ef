package command

import (
	"strconv"
	"strings"

	"redisd/internal/conn"
	"redisd/internal/resp"
	"redisd/internal/store"
)

func init() {
	register("GEOADD", handleGeoAdd)
	register("GEOPOS", handleGeoPos)
	register("GEODIST", handleGeoDist)
	register("GEOSEARCH", handleGeoSearch)
}

// handleGeoAdd implements GEOADD key lon lat member [lon lat member ...]
// (spec.md §4.5).
func handleGeoAdd(d *Dispatcher, c *conn.Conn, cmd *Command) (*resp.Frame, bool, bool) {
	if len(cmd.Args) < 4 || (len(cmd.Args)-1)%3 != 0 {
		return wrongArgs("GEOADD"), false, false
	}
	key := cmd.Args[0]
	rest := cmd.Args[1:]
	points := make([]store.GeoPoint, len(rest)/3)
	for i := 0; i < len(rest); i += 3 {
		lon, err1 := strconv.ParseFloat(rest[i], 64)
		lat, err2 := strconv.ParseFloat(rest[i+1], 64)
		if err1 != nil || err2 != nil {
			return resp.NewError("ERR value is not a valid float"), false, false
		}
		points[i/3] = store.GeoPoint{Longitude: lon, Latitude: lat, Member: rest[i+2]}
	}
	n, err := d.Engine.GeoAdd(key, points)
	if err != nil {
		return errFrame(err), false, false
	}
	return resp.NewInteger(int64(n)), true, false
}

func handleGeoPos(d *Dispatcher, c *conn.Conn, cmd *Command) (*resp.Frame, bool, bool) {
	if len(cmd.Args) < 2 {
		return wrongArgs("GEOPOS"), false, false
	}
	points, err := d.Engine.GeoPos(cmd.Args[0], cmd.Args[1:])
	if err != nil {
		return errFrame(err), false, false
	}
	items := make([]*resp.Frame, len(points))
	for i, p := range points {
		if p == nil {
			items[i] = resp.NewNullArray()
			continue
		}
		items[i] = resp.NewArray(
			resp.NewBulkString(strconv.FormatFloat(p.Longitude, 'f', -1, 64)),
			resp.NewBulkString(strconv.FormatFloat(p.Latitude, 'f', -1, 64)),
		)
	}
	return resp.NewArray(items...), false, false
}

func handleGeoDist(d *Dispatcher, c *conn.Conn, cmd *Command) (*resp.Frame, bool, bool) {
	if len(cmd.Args) != 3 {
		return wrongArgs("GEODIST"), false, false
	}
	dist, ok, err := d.Engine.GeoDist(cmd.Args[0], cmd.Args[1], cmd.Args[2])
	if err != nil {
		return errFrame(err), false, false
	}
	if !ok {
		return resp.NewNullBulkString(), false, false
	}
	return resp.NewBulkString(strconv.FormatFloat(dist, 'f', 4, 64)), false, false
}

// handleGeoSearch implements GEOSEARCH key FROMLONLAT lon lat BYRADIUS
// radius m (spec.md §4.5, scoped to the radius-search form).
func handleGeoSearch(d *Dispatcher, c *conn.Conn, cmd *Command) (*resp.Frame, bool, bool) {
	if len(cmd.Args) != 7 {
		return wrongArgs("GEOSEARCH"), false, false
	}
	key := cmd.Args[0]
	if strings.ToUpper(cmd.Args[1]) != "FROMLONLAT" {
		return resp.NewError("ERR syntax error"), false, false
	}
	lon, err1 := strconv.ParseFloat(cmd.Args[2], 64)
	lat, err2 := strconv.ParseFloat(cmd.Args[3], 64)
	if err1 != nil || err2 != nil {
		return resp.NewError("ERR value is not a valid float"), false, false
	}
	if strings.ToUpper(cmd.Args[4]) != "BYRADIUS" {
		return resp.NewError("ERR syntax error"), false, false
	}
	radius, err := strconv.ParseFloat(cmd.Args[5], 64)
	if err != nil {
		return resp.NewError("ERR value is not a valid float"), false, false
	}
	unit := strings.ToLower(cmd.Args[6])
	var radiusMeters float64
	switch unit {
	case "m":
		radiusMeters = radius
	case "km":
		radiusMeters = radius * 1000
	default:
		return resp.NewError("ERR unsupported unit provided. please use m, km"), false, false
	}

	results, err := d.Engine.GeoSearchByRadius(key, lon, lat, radiusMeters)
	if err != nil {
		return errFrame(err), false, false
	}
	items := make([]*resp.Frame, len(results))
	for i, r := range results {
		items[i] = resp.NewBulkString(r.Member)
	}
	return resp.NewArray(items...), false, false
}
