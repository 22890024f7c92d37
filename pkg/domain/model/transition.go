package model

var fulfillmentTransitions = map[OrderStatus][]OrderStatus{
	StatusPending:        {StatusConfirmed},
	StatusConfirmed:      {StatusPreparing},
	StatusPreparing:      {StatusReady},
	StatusReady:          {StatusOutForDelivery, StatusPickedUp},
	StatusOutForDelivery: {StatusDelivered},
}

// CanTransition reports whether an order may move from one fulfillment status
// to another without an override. CANCELADO is reachable from any state,
// EM_ENTREGA and ENTREGUE only for deliveries and RETIRADO only for pickups.
func CanTransition(from, to OrderStatus, deliveryType DeliveryType) bool {
	if from == to {
		return true
	}
	if to == StatusCancelled {
		return true
	}
	switch to {
	case StatusOutForDelivery, StatusDelivered:
		if deliveryType != Delivery {
			return false
		}
	case StatusPickedUp:
		if deliveryType != Pickup {
			return false
		}
	}
	for _, next := range fulfillmentTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// RequiresPayment reports whether reaching status without an override needs
// an approved payment.
func RequiresPayment(status OrderStatus) bool {
	return status != StatusPending && status != StatusCancelled
}

// CanTransitionPayment allows PENDING to move to any terminal status and
// treats terminal statuses as final.
func CanTransitionPayment(from, to PaymentStatus) bool {
	if from == to {
		return true
	}
	return from == PaymentPending
}
