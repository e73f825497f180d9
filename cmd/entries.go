package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/rahat/mess/internal/api"
	"github.com/rahat/mess/internal/dispatch"
)

// reportOutcome prints either the success line or the queued/offline notice.
// Queued results are not errors: the entry is safe locally.
func reportOutcome(res dispatch.Result, successMsg string) error {
	if res.Success {
		fmt.Println(successMsg)
		return nil
	}
	if res.Queued() {
		fmt.Println("Saved locally; will sync when back online.")
		return nil
	}
	return res.Err()
}

func today() string {
	return time.Now().Format("2006-01-02")
}

func thisMonth() string {
	return time.Now().Format("2006-01")
}

var mealCmd = &cobra.Command{
	Use:     "meal",
	Short:   "Record and list meals",
	GroupID: "entries",
}

var mealAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Record today's meals",
	RunE: func(cmd *cobra.Command, args []string) error {
		date, _ := cmd.Flags().GetString("date")
		breakfast, _ := cmd.Flags().GetFloat64("breakfast")
		lunch, _ := cmd.Flags().GetFloat64("lunch")
		dinner, _ := cmd.Flags().GetFloat64("dinner")

		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()
		if err := requireAuth(a); err != nil {
			return err
		}

		_, res := a.API.CreateMeal(context.Background(), api.Meal{
			Date: date, Breakfast: breakfast, Lunch: lunch, Dinner: dinner,
		})
		return reportOutcome(res, "Meal recorded.")
	},
}

var mealListCmd = &cobra.Command{
	Use:   "list",
	Short: "List meals for a month",
	RunE: func(cmd *cobra.Command, args []string) error {
		month, _ := cmd.Flags().GetString("month")

		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()
		if err := requireAuth(a); err != nil {
			return err
		}

		meals, res := a.API.ListMeals(context.Background(), month)
		if !res.Success {
			return res.Err()
		}
		if len(meals) == 0 {
			fmt.Println("No meals recorded.")
			return nil
		}
		for _, m := range meals {
			fmt.Printf("%s  b:%.1f l:%.1f d:%.1f\n", m.Date, m.Breakfast, m.Lunch, m.Dinner)
		}
		return nil
	},
}

var mealEditCmd = &cobra.Command{
	Use:   "edit <id>",
	Short: "Rewrite a meal entry",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		date, _ := cmd.Flags().GetString("date")
		breakfast, _ := cmd.Flags().GetFloat64("breakfast")
		lunch, _ := cmd.Flags().GetFloat64("lunch")
		dinner, _ := cmd.Flags().GetFloat64("dinner")

		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()
		if err := requireAuth(a); err != nil {
			return err
		}

		_, res := a.API.UpdateMeal(context.Background(), args[0], api.Meal{
			Date: date, Breakfast: breakfast, Lunch: lunch, Dinner: dinner,
		})
		return reportOutcome(res, "Meal updated.")
	},
}

var mealRmCmd = &cobra.Command{
	Use:   "rm <id>",
	Short: "Delete a meal entry",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()
		if err := requireAuth(a); err != nil {
			return err
		}

		res := a.API.DeleteMeal(context.Background(), args[0])
		return reportOutcome(res, "Meal deleted.")
	},
}

var bazarCmd = &cobra.Command{
	Use:     "bazar",
	Short:   "Record and list grocery purchases",
	GroupID: "entries",
}

var bazarAddCmd = &cobra.Command{
	Use:   "add <description> <amount>",
	Short: "Record a bazar purchase",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		date, _ := cmd.Flags().GetString("date")
		var amount float64
		if _, err := fmt.Sscanf(args[1], "%f", &amount); err != nil {
			return fmt.Errorf("invalid amount %q", args[1])
		}

		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()
		if err := requireAuth(a); err != nil {
			return err
		}

		_, res := a.API.CreateBazar(context.Background(), api.BazarEntry{
			Date: date, Description: args[0], Amount: amount,
		})
		return reportOutcome(res, "Bazar entry recorded.")
	},
}

var bazarListCmd = &cobra.Command{
	Use:   "list",
	Short: "List bazar entries for a month",
	RunE: func(cmd *cobra.Command, args []string) error {
		month, _ := cmd.Flags().GetString("month")

		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()
		if err := requireAuth(a); err != nil {
			return err
		}

		entries, res := a.API.ListBazar(context.Background(), month)
		if !res.Success {
			return res.Err()
		}
		var total float64
		for _, e := range entries {
			fmt.Printf("%s  %-30s %10.2f\n", e.Date, e.Description, e.Amount)
			total += e.Amount
		}
		fmt.Printf("%43s %10.2f\n", "total", total)
		return nil
	},
}

var bazarEditCmd = &cobra.Command{
	Use:   "edit <id> <description> <amount>",
	Short: "Rewrite a bazar purchase",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		date, _ := cmd.Flags().GetString("date")
		var amount float64
		if _, err := fmt.Sscanf(args[2], "%f", &amount); err != nil {
			return fmt.Errorf("invalid amount %q", args[2])
		}

		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()
		if err := requireAuth(a); err != nil {
			return err
		}

		_, res := a.API.UpdateBazar(context.Background(), args[0], api.BazarEntry{
			Date: date, Description: args[1], Amount: amount,
		})
		return reportOutcome(res, "Bazar entry updated.")
	},
}

var bazarRmCmd = &cobra.Command{
	Use:   "rm <id>",
	Short: "Delete a bazar purchase",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()
		if err := requireAuth(a); err != nil {
			return err
		}

		res := a.API.DeleteBazar(context.Background(), args[0])
		return reportOutcome(res, "Bazar entry deleted.")
	},
}

var paymentCmd = &cobra.Command{
	Use:     "payment",
	Short:   "Record and list deposits",
	GroupID: "entries",
}

var paymentAddCmd = &cobra.Command{
	Use:   "add <amount>",
	Short: "Record a deposit",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		date, _ := cmd.Flags().GetString("date")
		note, _ := cmd.Flags().GetString("note")
		var amount float64
		if _, err := fmt.Sscanf(args[0], "%f", &amount); err != nil {
			return fmt.Errorf("invalid amount %q", args[0])
		}

		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()
		if err := requireAuth(a); err != nil {
			return err
		}

		_, res := a.API.CreatePayment(context.Background(), api.Payment{
			Date: date, Amount: amount, Note: note,
		})
		return reportOutcome(res, "Payment recorded.")
	},
}

var paymentListCmd = &cobra.Command{
	Use:   "list",
	Short: "List deposits for a month",
	RunE: func(cmd *cobra.Command, args []string) error {
		month, _ := cmd.Flags().GetString("month")

		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()
		if err := requireAuth(a); err != nil {
			return err
		}

		payments, res := a.API.ListPayments(context.Background(), month)
		if !res.Success {
			return res.Err()
		}
		var total float64
		for _, p := range payments {
			fmt.Printf("%s  %10.2f  %s\n", p.Date, p.Amount, p.Note)
			total += p.Amount
		}
		fmt.Printf("%s  %10.2f\n", "     total", total)
		return nil
	},
}

var summaryCmd = &cobra.Command{
	Use:     "summary",
	Short:   "Show the month's meal rate and totals",
	GroupID: "entries",
	RunE: func(cmd *cobra.Command, args []string) error {
		month, _ := cmd.Flags().GetString("month")

		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()
		if err := requireAuth(a); err != nil {
			return err
		}

		s, res := a.API.MonthSummary(context.Background(), month)
		if !res.Success {
			return res.Err()
		}
		fmt.Printf("month:    %s\n", s.Month)
		fmt.Printf("meals:    %.1f\n", s.TotalMeals)
		fmt.Printf("bazar:    %.2f\n", s.TotalBazar)
		fmt.Printf("rate:     %.2f per meal\n", s.MealRate)
		fmt.Printf("deposits: %.2f\n", s.TotalDeposit)
		return nil
	},
}

func init() {
	mealAddCmd.Flags().String("date", today(), "entry date (YYYY-MM-DD)")
	mealAddCmd.Flags().Float64("breakfast", 0, "breakfast count")
	mealAddCmd.Flags().Float64("lunch", 0, "lunch count")
	mealAddCmd.Flags().Float64("dinner", 0, "dinner count")
	mealEditCmd.Flags().String("date", today(), "entry date (YYYY-MM-DD)")
	mealEditCmd.Flags().Float64("breakfast", 0, "breakfast count")
	mealEditCmd.Flags().Float64("lunch", 0, "lunch count")
	mealEditCmd.Flags().Float64("dinner", 0, "dinner count")
	mealListCmd.Flags().String("month", thisMonth(), "month (YYYY-MM)")
	mealCmd.AddCommand(mealAddCmd, mealEditCmd, mealRmCmd, mealListCmd)

	bazarAddCmd.Flags().String("date", today(), "entry date (YYYY-MM-DD)")
	bazarEditCmd.Flags().String("date", today(), "entry date (YYYY-MM-DD)")
	bazarListCmd.Flags().String("month", thisMonth(), "month (YYYY-MM)")
	bazarCmd.AddCommand(bazarAddCmd, bazarEditCmd, bazarRmCmd, bazarListCmd)

	paymentAddCmd.Flags().String("date", today(), "entry date (YYYY-MM-DD)")
	paymentAddCmd.Flags().String("note", "", "optional note")
	paymentListCmd.Flags().String("month", thisMonth(), "month (YYYY-MM)")
	paymentCmd.AddCommand(paymentAddCmd, paymentListCmd)

	summaryCmd.Flags().String("month", thisMonth(), "month (YYYY-MM)")

	rootCmd.AddCommand(mealCmd, bazarCmd, paymentCmd, summaryCmd)
}
