package cart_test

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"testing"

	"github.com/cucumber/godog"

	"github.com/Simplici0/quickprint/internal/cart"
	"github.com/Simplici0/quickprint/internal/pricing"
)

type cartTestContext struct {
	engine  *cart.Engine
	table   *pricing.Table
	cart    cart.Cart
	last    cart.Item
	staging cart.Staging
	order   cart.OrderRequest
}

func (c *cartTestContext) reset() {
	c.engine = cart.NewEngine(0)
	c.table = nil
	c.cart = nil
	c.last = cart.Item{}
	c.staging = cart.NewStaging()
	c.order = cart.OrderRequest{}
}

func (c *cartTestContext) theShopCharges(bwSingle, bwDuplex, colorSingle, colorDuplex float64) error {
	table := pricing.FromFloats(bwSingle, bwDuplex, colorSingle, colorDuplex)
	c.table = &table
	return nil
}

func (c *cartTestContext) thePricingTableHasNotLoaded() error {
	c.table = nil
	return nil
}

func (c *cartTestContext) iAddAFile(pages, copies int, color, duplex string) error {
	cfg := cart.JobConfig{Copies: copies, IsColor: color == "yes", IsDuplex: duplex == "yes"}
	file := cart.FileRef{URL: fmt.Sprintf("http://files/%d.pdf", len(c.cart)), Name: "doc.pdf"}
	c.cart, c.last = c.engine.AddToCart(c.cart, file, pages, cfg, c.table)
	return nil
}

func (c *cartTestContext) iRemoveTheFirstItem() error {
	if len(c.cart) == 0 {
		return fmt.Errorf("cart is empty")
	}
	c.cart = cart.RemoveFromCart(c.cart, c.cart[0].ID)
	return nil
}

func (c *cartTestContext) theFileIsUploading(name string) error {
	var err error
	c.staging, err = c.staging.Select(name)
	return err
}

func (c *cartTestContext) theUploadFailsWith(message string) error {
	var err error
	c.staging, err = c.staging.UploadFailed(c.staging.Attempt, message)
	return err
}

func (c *cartTestContext) iBuildTheOrder(userID, shopID int) error {
	var err error
	c.order, err = cart.BuildSubmissionPayload(c.cart, int64(userID), int64(shopID))
	return err
}

func (c *cartTestContext) theLastItemCosts(want string) error {
	if got := pricing.Display(c.last.Price); got != want {
		return fmt.Errorf("expected last item price %s, got %s", want, got)
	}
	return nil
}

func (c *cartTestContext) theCartTotalIs(want string) error {
	if got := pricing.Display(cart.Total(c.cart)); got != want {
		return fmt.Errorf("expected cart total %s, got %s", want, got)
	}
	return nil
}

func (c *cartTestContext) theCartHasPageUnits(want int) error {
	if got := cart.TotalPageUnits(c.cart); got != want {
		return fmt.Errorf("expected %d page units, got %d", want, got)
	}
	return nil
}

func (c *cartTestContext) theCartHasItems(want int) error {
	if len(c.cart) != want {
		return fmt.Errorf("expected %d items, got %d", want, len(c.cart))
	}
	return nil
}

func (c *cartTestContext) theStagingSlotIs(want string) error {
	if string(c.staging.State) != want {
		return fmt.Errorf("expected staging state %s, got %s", want, c.staging.State)
	}
	return nil
}

func (c *cartTestContext) theStagedFileIs(want string) error {
	if c.staging.FileName != want {
		return fmt.Errorf("expected staged file %q, got %q", want, c.staging.FileName)
	}
	return nil
}

func (c *cartTestContext) theOrderHasLineItems(want int) error {
	if len(c.order.Items) != want {
		return fmt.Errorf("expected %d line items, got %d", want, len(c.order.Items))
	}
	return nil
}

func (c *cartTestContext) theOrderPayloadDoesNotMention(word string) error {
	body, err := json.Marshal(c.order)
	if err != nil {
		return err
	}
	if strings.Contains(string(body), word) {
		return fmt.Errorf("payload %s mentions %q", body, word)
	}
	return nil
}

func InitializeScenario(ctx *godog.ScenarioContext) {
	tc := &cartTestContext{}

	ctx.Before(func(ctx context.Context, sc *godog.Scenario) (context.Context, error) {
		tc.reset()
		return ctx, nil
	})

	// Given steps
	ctx.Step(`^the shop charges (\d+\.\d+) bw single, (\d+\.\d+) bw duplex, (\d+\.\d+) color single and (\d+\.\d+) color duplex$`, tc.theShopCharges)
	ctx.Step(`^the pricing table has not loaded$`, tc.thePricingTableHasNotLoaded)
	ctx.Step(`^the file "([^"]*)" is uploading$`, tc.theFileIsUploading)

	// When steps
	ctx.Step(`^I add a file with (\d+) pages, (\d+) copies, color "(yes|no)" and duplex "(yes|no)"$`, tc.iAddAFile)
	ctx.Step(`^I remove the first item$`, tc.iRemoveTheFirstItem)
	ctx.Step(`^the upload fails with "([^"]*)"$`, tc.theUploadFailsWith)
	ctx.Step(`^I build the order for user (\d+) at shop (\d+)$`, tc.iBuildTheOrder)

	// Then steps
	ctx.Step(`^the last item costs "([^"]*)"$`, tc.theLastItemCosts)
	ctx.Step(`^the cart total is "([^"]*)"$`, tc.theCartTotalIs)
	ctx.Step(`^the cart has (\d+) page units$`, tc.theCartHasPageUnits)
	ctx.Step(`^the cart has (\d+) items$`, tc.theCartHasItems)
	ctx.Step(`^the staging slot is "([^"]*)"$`, tc.theStagingSlotIs)
	ctx.Step(`^the staged file is "([^"]*)"$`, tc.theStagedFileIs)
	ctx.Step(`^the order has (\d+) line items$`, tc.theOrderHasLineItems)
	ctx.Step(`^the order payload does not mention "([^"]*)"$`, tc.theOrderPayloadDoesNotMention)
}

func TestFeatures(t *testing.T) {
	suite := godog.TestSuite{
		ScenarioInitializer: InitializeScenario,
		Options: &godog.Options{
			Format:   "pretty",
			Paths:    []string{"features"},
			TestingT: t,
		},
	}

	if suite.Run() != 0 {
		t.Fatal("non-zero status returned, failed to run feature tests")
	}
}
