package domain

import "time"

// refreshCallTimeout caps a discovery refresh, including schema validation.
const refreshCallTimeout = 15 * time.Second

// scriptCallTimeout caps one execute_script run, including every merchant
// call the script makes.
const scriptCallTimeout = 60 * time.Second
