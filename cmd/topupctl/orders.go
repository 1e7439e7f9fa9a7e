package main

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"topup/internal/service/topup/application"
	"topup/internal/service/topup/domain"
)

func ordersCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "orders",
		Short: "Inspect stored orders",
	}
	cmd.AddCommand(ordersListCmd())
	cmd.AddCommand(ordersGetCmd())
	return cmd
}

func ordersListCmd() *cobra.Command {
	var paymentStatus, fulfillmentStatus string
	var limit int

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List orders, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			filter, err := buildFilter(paymentStatus, fulfillmentStatus, limit)
			if err != nil {
				return err
			}

			_, container, err := openContainer()
			if err != nil {
				return err
			}
			defer container.Close()

			ctx, cancel := container.WithRequestTimeout(cmd.Context())
			defer cancel()
			orders, err := container.Repo.List(ctx, filter)
			if err != nil {
				return err
			}
			return printOrders(cmd.OutOrStdout(), orders)
		},
	}

	cmd.Flags().StringVar(&paymentStatus, "payment-status", "", "Filter by payment status (UNPAID, PAID, EXPIRED, FAILED)")
	cmd.Flags().StringVar(&fulfillmentStatus, "fulfillment-status", "", "Filter by fulfillment status (e.g. UNRESOLVED)")
	cmd.Flags().IntVarP(&limit, "limit", "n", 50, "Maximum number of orders")
	return cmd
}

func ordersGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <order-id>",
		Short: "Show one order",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, container, err := openContainer()
			if err != nil {
				return err
			}
			defer container.Close()

			ctx, cancel := container.WithRequestTimeout(cmd.Context())
			defer cancel()
			order, err := container.Repo.FindByID(ctx, args[0])
			if err != nil {
				return err
			}
			printOrder(cmd.OutOrStdout(), order)
			return nil
		},
	}
}

func buildFilter(paymentStatus, fulfillmentStatus string, limit int) (domain.OrderFilter, error) {
	var f domain.OrderFilter
	if paymentStatus != "" {
		ps, ok := domain.ParsePaymentStatus(paymentStatus)
		if !ok {
			return f, fmt.Errorf("unknown payment status %q", paymentStatus)
		}
		f.PaymentStatus = ps
	}
	if fulfillmentStatus != "" {
		fs, ok := domain.ParseFulfillmentStatus(fulfillmentStatus)
		if !ok {
			return f, fmt.Errorf("unknown fulfillment status %q", fulfillmentStatus)
		}
		f.FulfillmentStatus = fs
	}
	if limit < 0 {
		return f, fmt.Errorf("limit must not be negative")
	}
	f.Limit = limit
	return f, nil
}

func printOrders(w io.Writer, orders []*domain.Order) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ORDER\tPRODUCT\tTARGET\tAMOUNT\tPAYMENT\tFULFILLMENT\tCREATED")
	for _, o := range orders {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\t%s\t%s\n",
			o.ID, o.Product, o.TargetAccount, o.Amount, o.PaymentStatus, o.FulfillmentStatus,
			o.CreatedAt.Format("2006-01-02 15:04:05"))
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	fmt.Fprintf(w, "\n%d order(s)\n", len(orders))
	return nil
}

func printOrder(w io.Writer, o *domain.Order) {
	v := application.NewOrderView(o)
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "Order:\t%s\n", v.OrderID)
	fmt.Fprintf(tw, "Product:\t%s %s\n", v.Provider, v.Denomination)
	fmt.Fprintf(tw, "Target:\t%s\n", v.TargetAccount)
	fmt.Fprintf(tw, "Amount:\t%d\n", v.Amount)
	fmt.Fprintf(tw, "Method:\t%s\n", v.PaymentMethod)
	fmt.Fprintf(tw, "Payment:\t%s\n", v.PaymentStatus)
	fmt.Fprintf(tw, "Fulfillment:\t%s\n", v.FulfillmentStatus)
	if v.FulfillmentProof != "" {
		fmt.Fprintf(tw, "Proof:\t%s\n", v.FulfillmentProof)
	}
	fmt.Fprintf(tw, "Checkout:\t%s\n", v.CheckoutReference)
	fmt.Fprintf(tw, "Created:\t%s\n", v.CreatedAt.Format("2006-01-02 15:04:05"))
	fmt.Fprintf(tw, "Updated:\t%s\n", v.UpdatedAt.Format("2006-01-02 15:04:05"))
	tw.Flush()
}
