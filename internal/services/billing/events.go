package billing

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/kevin07696/subscription-billing/internal/domain"
)

func paymentSucceeded(txn *domain.Transaction, planName string, newBalance decimal.Decimal, now time.Time) *domain.Notification {
	message := fmt.Sprintf("Payment of %s was successful.", txn.Amount.StringFixed(2))
	if planName != "" {
		message = fmt.Sprintf("Payment of %s for %s was successful.", txn.Amount.StringFixed(2), planName)
	}
	return domain.NewNotification(domain.NotificationPaymentSuccess, txn.UserID, txn.SubscriptionID,
		"Payment successful", message,
		map[string]interface{}{
			"transaction_id":   txn.ID.String(),
			"transaction_type": string(txn.Type),
			"amount":           txn.Amount.StringFixed(2),
			"new_balance":      newBalance.StringFixed(2),
		}, now)
}

func paymentFailed(txn *domain.Transaction, reason string, now time.Time) *domain.Notification {
	return domain.NewNotification(domain.NotificationPaymentFailed, txn.UserID, txn.SubscriptionID,
		"Payment failed", fmt.Sprintf("Payment of %s failed: %s.", txn.Amount.StringFixed(2), reason),
		map[string]interface{}{
			"transaction_id":   txn.ID.String(),
			"transaction_type": string(txn.Type),
			"amount":           txn.Amount.StringFixed(2),
			"reason":           reason,
		}, now)
}

func subscriptionCanceled(sub *domain.UserSubscription, reason string, now time.Time) *domain.Notification {
	data := map[string]interface{}{"status": string(sub.Status)}
	if reason != "" {
		data["reason"] = reason
	}
	if sub.EndDate != nil {
		data["end_date"] = sub.EndDate.Format(time.RFC3339)
	}
	return domain.NewNotification(domain.NotificationSubscriptionCanceled, sub.UserID, &sub.ID,
		"Subscription canceled", "Your subscription has been canceled and will not renew.", data, now)
}

func subscriptionModified(sub *domain.UserSubscription, message string, now time.Time) *domain.Notification {
	data := map[string]interface{}{
		"status":     string(sub.Status),
		"auto_renew": sub.AutoRenew,
	}
	if sub.EndDate != nil {
		data["end_date"] = sub.EndDate.Format(time.RFC3339)
	}
	return domain.NewNotification(domain.NotificationSubscriptionModified, sub.UserID, &sub.ID,
		"Subscription updated", message, data, now)
}

func subscriptionExpiring(sub *domain.UserSubscription, now time.Time) *domain.Notification {
	remaining := sub.EndDate.Sub(now)
	days := int(remaining.Hours() / 24)
	message := fmt.Sprintf("Your subscription ends on %s.", sub.EndDate.Format("2006-01-02"))
	if sub.AutoRenew {
		message = fmt.Sprintf("Your subscription renews on %s. Make sure your balance covers the renewal.", sub.EndDate.Format("2006-01-02"))
	}
	return domain.NewNotification(domain.NotificationSubscriptionExpiring, sub.UserID, &sub.ID,
		"Subscription expiring soon", message,
		map[string]interface{}{
			"end_date":   sub.EndDate.Format(time.RFC3339),
			"days_left":  days,
			"auto_renew": sub.AutoRenew,
		}, now)
}

func refundProcessed(refund *domain.Transaction, sub *domain.UserSubscription, canceled bool, newBalance decimal.Decimal, now time.Time) *domain.Notification {
	data := map[string]interface{}{
		"transaction_id":          refund.ID.String(),
		"amount":                  refund.Amount.StringFixed(2),
		"new_balance":             newBalance.StringFixed(2),
		"canceled":                canceled,
		"subscription_status":     string(sub.Status),
		"original_transaction_id": "",
	}
	if refund.ParentTransactionID != nil {
		data["original_transaction_id"] = refund.ParentTransactionID.String()
	}
	if sub.EndDate != nil {
		data["end_date"] = sub.EndDate.Format(time.RFC3339)
	}
	message := fmt.Sprintf("A refund of %s has been credited to your balance.", refund.Amount.StringFixed(2))
	if canceled {
		message += " Your subscription has been canceled."
	}
	return domain.NewNotification(domain.NotificationRefundProcessed, refund.UserID, &sub.ID,
		"Refund processed", message, data, now)
}
