package api

// @title Margin Book Engine API
// @version 1.0
// @description Order book and trade engine HTTP surface for a bonding-curve margin AMM.
// @BasePath /v1
// @schemes http https
