package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"storefront/pkg/domain/model"
)

type NotificationService interface {
	NotifyNewOrder(ctx context.Context, orderID uuid.UUID) error
}

// NewNotificationService sends store notifications to recipient. With no
// recipient configured notifications are skipped.
func NewNotificationService(orders model.OrderRepository, sender model.NotificationSender, recipient string) NotificationService {
	return &notificationService{orders: orders, sender: sender, recipient: strings.TrimSpace(recipient)}
}

type notificationService struct {
	orders    model.OrderRepository
	sender    model.NotificationSender
	recipient string
}

func (s *notificationService) NotifyNewOrder(ctx context.Context, orderID uuid.UUID) error {
	if s.recipient == "" {
		log.WithField("orderId", orderID).Debug("no order notification recipient configured")
		return nil
	}

	order, err := s.orders.Find(ctx, orderID)
	if err != nil {
		return err
	}

	subject := fmt.Sprintf("Novo pedido de %s - R$ %s", order.CustomerName, order.Total.StringFixed(2))
	if err := s.sender.Send(ctx, s.recipient, subject, orderSummary(order)); err != nil {
		log.WithError(err).WithField("orderId", orderID).Error("failed to send order notification")
		return err
	}
	return nil
}

func orderSummary(order *model.Order) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Pedido: %s\n", order.ID)
	fmt.Fprintf(&b, "Cliente: %s\n", order.CustomerName)
	fmt.Fprintf(&b, "Telefone: %s\n", order.CustomerPhone)
	fmt.Fprintf(&b, "Tipo: %s\n", order.DeliveryType)
	if order.DeliveryType == model.Delivery {
		fmt.Fprintf(&b, "Endereço: %s\n", order.CustomerAddress)
	}
	b.WriteString("\nItens:\n")
	for _, item := range order.Items {
		fmt.Fprintf(&b, "- %dx %s", item.Quantity, item.Product.Name)
		if len(item.Extras) > 0 {
			names := make([]string, 0, len(item.Extras))
			for _, extra := range item.Extras {
				names = append(names, extra.Name)
			}
			fmt.Fprintf(&b, " (%s)", strings.Join(names, ", "))
		}
		fmt.Fprintf(&b, ": R$ %s\n", LineTotal(item).StringFixed(2))
	}
	fmt.Fprintf(&b, "\nTotal: R$ %s\n", order.Total.StringFixed(2))
	return b.String()
}
