package enums

// CheckoutWarningType classifies non-fatal adjustments made while pricing a checkout.
type CheckoutWarningType string

const (
	CheckoutWarningOutOfStock       CheckoutWarningType = "out_of_stock"
	CheckoutWarningShopDropped      CheckoutWarningType = "shop_dropped"
	CheckoutWarningDiscountRejected CheckoutWarningType = "discount_rejected"
)

// String implements fmt.Stringer.
func (w CheckoutWarningType) String() string {
	return string(w)
}
