package peripheral

import (
	"fmt"
	"strconv"
)

// Command grammar shared with the box firmware. The delimiters and field
// order must not change independently of the firmware.

func RiderIDCommand(riderID string) string {
	return "RIDER_ID:" + riderID
}

func TopicCommand(topic string) string {
	return "TOPIC:" + topic
}

func OrderCompletedCommand(orderID string, totalPrice float64, clientID string) string {
	return fmt.Sprintf("ORDER_COMPLETED:%s|%s|%s",
		orderID, strconv.FormatFloat(totalPrice, 'f', -1, 64), clientID)
}
