package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"time"

	"shopping-assistant/internal/checkout"
	"shopping-assistant/internal/models"

	"github.com/spf13/cobra"
)

var (
	productURL    string
	productName   string
	quantity      int
	paymentMethod string
	buyer         models.Buyer

	checkoutCmd = &cobra.Command{
		Use:   "checkout",
		Short: "Buy a product: create an intent, wait for pricing, pay, wait for the order",
		RunE:  runCheckout,
	}
)

func init() {
	f := checkoutCmd.Flags()
	f.StringVar(&productURL, "url", "", "product URL")
	f.StringVar(&productName, "name", "your item", "product name used in messages")
	f.IntVar(&quantity, "quantity", 1, "quantity")
	f.StringVar(&paymentMethod, "payment-method", "", "tokenized payment method id")
	f.StringVar(&buyer.FirstName, "first-name", "", "buyer first name")
	f.StringVar(&buyer.LastName, "last-name", "", "buyer last name")
	f.StringVar(&buyer.Email, "email", "", "buyer email")
	f.StringVar(&buyer.Phone, "phone", "", "buyer phone")
	f.StringVar(&buyer.Address1, "address1", "", "street address")
	f.StringVar(&buyer.Address2, "address2", "", "apartment, suite, etc.")
	f.StringVar(&buyer.City, "city", "", "city")
	f.StringVar(&buyer.Province, "province", "", "state or province")
	f.StringVar(&buyer.Country, "country", "US", "country code")
	f.StringVar(&buyer.PostalCode, "postal-code", "", "postal code")
	_ = checkoutCmd.MarkFlagRequired("url")
	_ = checkoutCmd.MarkFlagRequired("payment-method")
}

func runCheckout(cmd *cobra.Command, args []string) error {
	client, err := newClient()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	out := cmd.OutOrStdout()
	product := models.Product{Name: productName, URL: productURL}
	flow := checkout.NewFlow(client, "", product, checkout.DefaultFlowConfig(), checkout.Hooks{})
	defer flow.Cancel()

	if err := flow.SubmitBuyer(ctx, buyer, quantity); err != nil {
		return fmt.Errorf("checkout not started: %s: %w", flow.Snapshot().LastError, err)
	}
	fmt.Fprintln(out, "Checkout started, waiting for pricing...")

	snap, err := waitForStep(ctx, flow, checkout.StepPayment)
	if err != nil {
		return err
	}
	if snap.Step == checkout.StepDone {
		return fmt.Errorf("checkout ended: %s", snap.Notice)
	}
	printOffer(out, snap.Intent)

	if err := flow.Confirm(ctx, paymentMethod); err != nil {
		return fmt.Errorf("%s: %w", flow.Snapshot().LastError, err)
	}
	fmt.Fprintln(out, "Payment submitted, placing order...")

	snap, err = flow.Wait(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintln(out, snap.Notice)
	if snap.Outcome != checkout.OutcomeCompleted {
		return errors.New("checkout did not complete")
	}
	fmt.Fprintln(out, checkout.CompletionMessage(productName, snap.Intent.ID))
	return nil
}

// waitForStep returns once the flow reaches step or finishes
func waitForStep(ctx context.Context, flow *checkout.Flow, step checkout.Step) (checkout.Snapshot, error) {
	ticker := time.NewTicker(250 * time.Millisecond)
	defer ticker.Stop()
	for {
		snap := flow.Snapshot()
		if snap.Step == step || snap.Step == checkout.StepDone {
			return snap, nil
		}
		select {
		case <-ctx.Done():
			return snap, ctx.Err()
		case <-flow.Done():
		case <-ticker.C:
		}
	}
}

func printOffer(out io.Writer, intent *models.CheckoutIntent) {
	if intent == nil || intent.Offer == nil {
		return
	}
	cost := intent.Offer.Cost
	fmt.Fprintf(out, "Subtotal: %s\n", formatMoney(cost.Subtotal))
	if cost.Shipping != nil {
		fmt.Fprintf(out, "Shipping: %s\n", formatMoney(*cost.Shipping))
	}
	if cost.Tax != nil {
		fmt.Fprintf(out, "Tax:      %s\n", formatMoney(*cost.Tax))
	}
	fmt.Fprintf(out, "Total:    %s\n", formatMoney(cost.Total))
}

func formatMoney(m models.Money) string {
	return fmt.Sprintf("%d.%02d %s", m.AmountSubunits/100, m.AmountSubunits%100, m.CurrencyCode)
}
