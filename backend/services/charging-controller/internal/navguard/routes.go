package navguard

import (
	"net/url"
	"strconv"
	"strings"
)

// Query parameter names carried by the in-flow routes.
const (
	ParamSessionID     = "sessionId"
	ParamReservationID = "reservationId"
	ParamVehicleID     = "vehicleId"
	ParamAmount        = "amount"
	ParamCurrency      = "currency"
	ParamMethod        = "method"
)

// Route is an in-app location.
type Route struct {
	Path  string
	Query url.Values
}

// String renders path and encoded query.
func (r Route) String() string {
	if len(r.Query) == 0 {
		return r.Path
	}
	return r.Path + "?" + r.Query.Encode()
}

// Routes holds the allow-listed in-flow paths.
type Routes struct {
	Charging string `yaml:"charging" env:"ROUTE_CHARGING"`
	Receipt  string `yaml:"receipt" env:"ROUTE_RECEIPT"`
	Payment  string `yaml:"payment" env:"ROUTE_PAYMENT"`
	// Assets is the prefix of static files loaded by the pages. Requests
	// under it are not navigation.
	Assets string `yaml:"assets" env:"ROUTE_ASSETS"`
}

// DefaultRoutes returns the stock page paths.
func DefaultRoutes() Routes {
	return Routes{Charging: "/charging", Receipt: "/receipt", Payment: "/payment", Assets: "/assets/"}
}

func (r Routes) withDefaults() Routes {
	d := DefaultRoutes()
	if strings.TrimSpace(r.Charging) == "" {
		r.Charging = d.Charging
	}
	if strings.TrimSpace(r.Receipt) == "" {
		r.Receipt = d.Receipt
	}
	if strings.TrimSpace(r.Payment) == "" {
		r.Payment = d.Payment
	}
	if strings.TrimSpace(r.Assets) == "" {
		r.Assets = d.Assets
	}
	return r
}

// IsAsset reports whether p lies under the assets prefix.
func (r Routes) IsAsset(p string) bool {
	prefix := strings.TrimRight(r.withDefaults().Assets, "/") + "/"
	return strings.HasPrefix(p, prefix)
}

// Allowed lists the paths a user may visit while a session is active.
func (r Routes) Allowed() []string {
	r = r.withDefaults()
	return []string{r.Charging, r.Receipt, r.Payment}
}

// ChargingRoute points back into the charging page.
func (r Routes) ChargingRoute(sessionID, reservationID, vehicleID string) Route {
	q := url.Values{}
	setNonEmpty(q, ParamSessionID, sessionID)
	setNonEmpty(q, ParamReservationID, reservationID)
	setNonEmpty(q, ParamVehicleID, vehicleID)
	return Route{Path: r.withDefaults().Charging, Query: q}
}

// ReceiptRoute hands a finished session to the receipt page.
func (r Routes) ReceiptRoute(sessionID string) Route {
	q := url.Values{}
	setNonEmpty(q, ParamSessionID, sessionID)
	return Route{Path: r.withDefaults().Receipt, Query: q}
}

// PaymentRoute hands a finished session to the manual payment page.
func (r Routes) PaymentRoute(sessionID string, amount float64, currency, method string) Route {
	q := url.Values{}
	setNonEmpty(q, ParamSessionID, sessionID)
	q.Set(ParamAmount, strconv.FormatFloat(amount, 'f', 2, 64))
	setNonEmpty(q, ParamCurrency, currency)
	setNonEmpty(q, ParamMethod, method)
	return Route{Path: r.withDefaults().Payment, Query: q}
}

func setNonEmpty(q url.Values, key, value string) {
	if value != "" {
		q.Set(key, value)
	}
}
