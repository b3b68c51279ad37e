package models

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"
)

// Order statuses as the backend reports them.
const (
	OrderStatusPending    = "PENDING"
	OrderStatusAccepted   = "ACCEPTED"
	OrderStatusInProgress = "IN_PROGRESS"
	OrderStatusDeliver    = "DELIVER"
	OrderStatusDelivering = "DELIVERING"
	OrderStatusDelivered  = "DELIVERED"
	OrderStatusCompleted  = "COMPLETED"
	OrderStatusCancelled  = "CANCELLED"
	OrderStatusRejected   = "REJECTED"
)

// Health labels received over telemetry. Advisory only.
const (
	HealthWaiting      = "WAITING"
	HealthVeryPositive = "VERY_POSITIVE"
	HealthPositive     = "POSITIVE"
	HealthMedium       = "MEDIUM"
	HealthNegative     = "NEGATIVE"
	HealthVeryNegative = "VERY_NEGATIVE"
)

type DeliveryPhase string

const (
	PhasePickup  DeliveryPhase = "PICKUP"
	PhaseDropoff DeliveryPhase = "DROPOFF"
)

type GeoCoordinate struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// Unresolved reports whether the coordinate is the zero sentinel meaning
// "needs resolution". A zero on either axis counts: the backend fills
// missing coordinates with zeroes, not nulls.
func (c GeoCoordinate) Unresolved() bool {
	return c.Latitude == 0 || c.Longitude == 0
}

// Coord decodes from a JSON number, a numeric string, or a numeric string
// with a comma decimal separator ("40,35"). The backend is inconsistent
// about which one it sends per field.
type Coord float64

func (c *Coord) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*c = 0
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		s = strings.TrimSpace(strings.ReplaceAll(s, ",", "."))
		if s == "" {
			*c = 0
			return nil
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return err
		}
		*c = Coord(f)
		return nil
	}
	var f float64
	if err := json.Unmarshal(b, &f); err != nil {
		return err
	}
	*c = Coord(f)
	return nil
}

type Address struct {
	Street    string `json:"street"`
	City      string `json:"city"`
	ZipCode   string `json:"zipCode"`
	Latitude  Coord  `json:"latitude"`
	Longitude Coord  `json:"longitude"`
}

func (a Address) Coordinate() GeoCoordinate {
	return GeoCoordinate{Latitude: float64(a.Latitude), Longitude: float64(a.Longitude)}
}

type OrderItem struct {
	ProductName  string  `json:"productName"`
	Quantity     int     `json:"quantity"`
	PriceProduct float64 `json:"priceProduct"`
}

type Order struct {
	ID              string      `json:"id"`
	ClientID        string      `json:"clientId"`
	UsernameClient  string      `json:"usernameClient,omitempty"`
	ShopID          string      `json:"shopId"`
	ShopName        string      `json:"shopName"`
	ShopAddress     Address     `json:"shopAddress"`
	DeliveryAddress Address     `json:"deliveryAddress"`
	OrderDetails    []OrderItem `json:"orderDetails,omitempty"`
	OrderDate       string      `json:"orderDate,omitempty"`
	OrderStatus     string      `json:"orderStatus"`
	TotalPrice      float64     `json:"totalPrice"`
	RiderID         string      `json:"riderId,omitempty"`
	RiderName       string      `json:"riderName,omitempty"`
}

// Phase derives the delivery phase from the order status: the rider is
// heading to the shop only while the backend says DELIVER.
func (o *Order) Phase() DeliveryPhase {
	if o.OrderStatus == OrderStatusDeliver {
		return PhasePickup
	}
	return PhaseDropoff
}

// TargetAddress is the address the rider is currently driving toward.
func (o *Order) TargetAddress() Address {
	if o.Phase() == PhasePickup {
		return o.ShopAddress
	}
	return o.DeliveryAddress
}
